package discovery

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestMultiDedups(t *testing.T) {
    a := Func(func() []string { return []string{"db1", "db2"} })
    b := Func(func() []string { return []string{"db2:3306", "db1", "db3"} })
    assert.Equal(t, []string{"db1", "db2", "db2:3306", "db3"}, Multi(a, nil, b).Seeds())
}
