// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sets

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := Make[string](10)
	assert.Len(t, s, 0)

	s.Insert("FW.fc1", "BW.fc1")
	assert.Len(t, s, 2)
	assert.True(t, s.Has("FW.fc1"))
	assert.False(t, s.Has("STEP"))

	s2 := MakeWith("BW.fc1", "STEP")
	s3 := s.Sub(s2)
	assert.Len(t, s3, 1)
	assert.True(t, s3.Has("FW.fc1"))

	assert.Equal(t, []string{"BW.fc1", "FW.fc1"}, Sorted(s))
}

func TestOrdered(t *testing.T) {
	o := MakeOrdered[string]()
	assert.True(t, o.Insert("FW.b"))
	assert.True(t, o.Insert("FW.a"))
	assert.False(t, o.Insert("FW.b"))
	assert.Equal(t, 2, o.Len())
	assert.True(t, o.Has("FW.a"))
	assert.False(t, o.Has("FW.c"))
	assert.Equal(t, []string{"FW.b", "FW.a"}, o.Elements())
	assert.Equal(t, "FW.a", o.At(1))

	// Elements returns a copy.
	elements := o.Elements()
	elements[0] = "changed"
	assert.Equal(t, "FW.b", o.At(0))
}
