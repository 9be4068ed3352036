package models

import (
	"encoding/json"
	"errors"
)

var ErrAlreadySet = errors.New("value already set")

// Text is an optional string that can be written once. The zero value is unset,
// which is distinct from a value that was set to "".
type Text struct {
	value string
	set   bool
}

func SomeText(v string) Text {
	return Text{value: v, set: true}
}

func (t Text) Get() (string, bool) {
	return t.value, t.set
}

func (t Text) IsSet() bool {
	return t.set
}

// Or returns the value, or fallback when unset.
func (t Text) Or(fallback string) string {
	if !t.set {
		return fallback
	}
	return t.value
}

func (t Text) String() string {
	return t.value
}

// Set stores v. A second call fails with ErrAlreadySet and leaves the first value.
func (t *Text) Set(v string) error {
	if t.set {
		return ErrAlreadySet
	}
	t.value = v
	t.set = true
	return nil
}

func (t Text) MarshalJSON() ([]byte, error) {
	if !t.set {
		return []byte("null"), nil
	}
	return json.Marshal(t.value)
}

func (t *Text) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = Text{}
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = SomeText(v)
	return nil
}
