// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flag

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// StringFlag implements the flag.Value interface and allows multiple calls to
// the same variable to append a list.
type StringFlag []string

func (s *StringFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *StringFlag) Set(value string) error {
	*s = append(*s, value)
	return nil
}

// FuncDurationVar is a type of flag that accepts a function, converts the
// user's value to a duration, and then calls the given function.
type FuncDurationVar func(d time.Duration) error

func (f FuncDurationVar) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	return f(v)
}
func (f FuncDurationVar) String() string   { return "" }
func (f FuncDurationVar) IsBoolFlag() bool { return false }

// FuncBoolVar is a type of flag that accepts a function, converts the user's
// value to a bool, and then calls the given function. It is used where the
// caller must tell an unset flag apart from an explicit false.
type FuncBoolVar func(b bool) error

func (f FuncBoolVar) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	return f(v)
}
func (f FuncBoolVar) String() string   { return "" }
func (f FuncBoolVar) IsBoolFlag() bool { return true }

// FuncMapStringStringVar is a type of flag that accepts a function, converts
// the user's value to a map[string]string, and then calls the given function.
// User input should be in the <k1>=<v1>,<k2>=<v2>,... format.
type FuncMapStringStringVar func(m map[string]string) error

func (f FuncMapStringStringVar) Set(s string) error {
	m := make(map[string]string)

	for _, kv := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("%q should be in <key>=<value> format", kv)
		}
		m[k] = v
	}
	return f(m)
}

func (f FuncMapStringStringVar) String() string { return "" }
