package static

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestStatic_Seeds(t *testing.T) {
    d := New(" 10.0.0.1:1337 ", "", "10.0.0.2:1337")
    require.Equal(t, []string{"10.0.0.1:1337", "10.0.0.2:1337"}, d.Seeds())
}

func TestParse(t *testing.T) {
    require.Nil(t, Parse(""))
    require.Equal(t, []string{"a:1", "b:2"}, Parse(" a:1, b:2 ,"))
}
