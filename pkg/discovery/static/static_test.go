package static

import (
    "testing"

    "github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
    cases := []struct {
        in   string
        want []string
    }{
        {"", nil},
        {"db1", []string{"db1"}},
        {" db1:3306 , db2 ", []string{"db1:3306", "db2"}},
        {",,db1, ,db2,", []string{"db1", "db2"}},
        {"db1 db2\tdb1", []string{"db1", "db2"}},
    }
    for _, c := range cases {
        got := Parse(c.in)
        if len(c.want) == 0 {
            assert.Empty(t, got, c.in)
            continue
        }
        assert.Equal(t, c.want, got, c.in)
    }
}

func TestNewCopies(t *testing.T) {
    d := New(" db1:3306 ", "", "db2", "db1:3306")
    got := d.Seeds()
    assert.Equal(t, []string{"db1:3306", "db2"}, got)
    got[0] = "x"
    assert.Equal(t, "db1:3306", d.Seeds()[0])
}
