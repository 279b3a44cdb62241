package middleware

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/f0mster/netrpc/pkg/fault"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
	"github.com/f0mster/netrpc/pkg/rpc"
	"github.com/f0mster/netrpc/pkg/stream"
)

// Recover turns a panic of a later stage or of the method into an error.
func Recover(log logger.Logger) CallMiddleware {
	return func(next CallHandler) CallHandler {
		return func(c *rpc.CallContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in %s: %v", c.Action, r)
					log.Error(err, "recovered", c.Action.Contract, c.Action.Method, string(debug.Stack()))
				}
			}()
			return next(c)
		}
	}
}

func Logging(log logger.Logger) CallMiddleware {
	return func(next CallHandler) CallHandler {
		return func(c *rpc.CallContext) error {
			log.Debug("call "+c.CallID+" started", c.Action.Contract, c.Action.Method)
			err := next(c)
			switch {
			case err == nil:
				log.Debug(fmt.Sprintf("call %s done in %s", c.CallID, c.Elapsed()), c.Action.Contract, c.Action.Method)
			case fault.IsCancellation(err):
				log.Info("call "+c.CallID+" cancelled", c.Action.Contract, c.Action.Method)
			default:
				log.Error(err, "call "+c.CallID+" failed", c.Action.Contract, c.Action.Method, "")
			}
			return err
		}
	}
}

// StreamLogging logs start and end of the call stream.
func StreamLogging(log logger.Logger) CallMiddleware {
	return func(next CallHandler) CallHandler {
		return func(c *rpc.CallContext) error {
			c.OnStreamStarted(func(c *rpc.CallContext) {
				log.Debug("stream of call "+c.CallID+" started", c.Action.Contract, c.Action.Method)
			})
			c.OnStreamFinished(func(c *rpc.CallContext, s stream.State) {
				text := fmt.Sprintf("stream of call %s %s after %s", c.CallID, s, c.Elapsed())
				if s == stream.Faulted {
					log.Warn(text, c.Action.Contract, c.Action.Method)
					return
				}
				log.Debug(text, c.Action.Contract, c.Action.Method)
			})
			return next(c)
		}
	}
}

// Wrap is the server and client RPCWrapper hook.
type Wrap func(ctx context.Context, serviceName, rpcName string, rpc func(ctx context.Context) error) error

// FromWrap runs the rest of the chain inside wrap. The context wrap passes on
// becomes the call context.
func FromWrap(wrap Wrap) CallMiddleware {
	return func(next CallHandler) CallHandler {
		return func(c *rpc.CallContext) error {
			return wrap(c.Context(), c.Action.Contract, c.Action.Method, func(ctx context.Context) error {
				c.SetContext(ctx)
				return next(c)
			})
		}
	}
}
