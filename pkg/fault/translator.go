package fault

import (
	"errors"
)

// Translator converts errors to descriptors and back using the mappings
// declared for one method.
type Translator struct {
	mappings []Mapping
}

func NewTranslator(mappings ...Mapping) *Translator {
	return &Translator{mappings: mappings}
}

func (t *Translator) Mappings() []Mapping {
	if t == nil {
		return nil
	}
	return t.mappings
}

func (t *Translator) ToDescriptor(err error) *Descriptor {
	return ToDescriptor(err, t.Mappings())
}

func (t *Translator) FromDescriptor(d *Descriptor) error {
	return FromDescriptor(d, t.Mappings())
}

func ToDescriptor(err error, mappings []Mapping) *Descriptor {
	if err == nil {
		return nil
	}
	if IsCancellation(err) {
		return &Descriptor{
			StatusCode: StatusCancelled,
			Payload:    encodePayload(err.Error(), nil),
		}
	}
	for _, m := range mappings {
		if e, ok := m.Kind.Match(err); ok {
			return &Descriptor{
				StatusCode: m.status(),
				Code:       m.Code,
				Type:       m.Kind.Name,
				Payload:    encodePayload(e.Error(), e),
			}
		}
	}
	var te *TextError
	if errors.As(err, &te) {
		return &Descriptor{
			StatusCode: te.StatusCode,
			Type:       TypeText,
			Payload:    encodePayload(te.Text, nil),
		}
	}
	return &Descriptor{
		StatusCode: StatusUnhandled,
		Payload:    encodePayload(err.Error(), nil),
	}
}

func FromDescriptor(d *Descriptor, mappings []Mapping) error {
	if d == nil {
		return nil
	}
	message, detail := d.decode()
	if d.StatusCode == StatusCancelled {
		return &Cancelled{Message: message}
	}
	if d.Type == TypeText {
		return &TextError{StatusCode: d.StatusCode, Text: message}
	}
	for _, m := range mappings {
		if m.Code == d.Code && m.status() == d.StatusCode {
			return m.Kind.New(message, detail)
		}
	}
	if d.Code == "" && d.StatusCode != StatusFault && d.StatusCode != StatusUnhandled {
		return &TextError{StatusCode: d.StatusCode, Text: message}
	}
	return &Error{StatusCode: d.StatusCode, Code: d.Code, Message: message}
}
