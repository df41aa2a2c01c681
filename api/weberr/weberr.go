// Package weberr decorates errors with what the HTTP layer needs: the
// response the client gets and the fields logged next to the error.
package weberr

import "errors"

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

type responseError struct {
	error
	body   interface{}
	status int
}

func (e *responseError) Unwrap() error { return e.error }

type fieldsError struct {
	error
	fields map[string]interface{}
}

func (e *fieldsError) Unwrap() error { return e.error }

// Response returns the outermost response attached to err.
func Response(err error) (body interface{}, status int, ok bool) {
	var re *responseError
	if errors.As(err, &re) {
		return re.body, re.status, true
	}
	return nil, 0, false
}

// Code is the machine readable code of the response attached to err, if any.
func Code(err error) string {
	body, _, ok := Response(err)
	if !ok {
		return ""
	}
	if er, ok := body.(*ErrorResponse); ok {
		return er.Code
	}
	return ""
}

// Fields merges the fields of every layer of err. Outer layers win on
// conflicting keys.
func Fields(err error) (map[string]interface{}, bool) {
	var layers []map[string]interface{}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if fe, ok := e.(*fieldsError); ok {
			layers = append(layers, fe.fields)
		}
	}
	if len(layers) == 0 {
		return nil, false
	}

	fields := make(map[string]interface{})
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i] {
			fields[k] = v
		}
	}
	return fields, true
}
