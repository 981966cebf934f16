package script

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newRuntime(t *testing.T, code string) *Runtime {
	t.Helper()
	r := NewRuntime(zap.NewNop())
	t.Cleanup(r.Close)
	require.NoError(t, r.LoadString(code))
	return r
}

func TestNoFilterKeepsEverything(t *testing.T) {
	r := newRuntime(t, `local x = 1`)
	assert.False(t, r.HasFilter())
	keep, extra, err := r.Filter(&Object{Type: "water"})
	require.NoError(t, err)
	assert.True(t, keep)
	assert.Nil(t, extra)
}

func TestFilter(t *testing.T) {
	r := newRuntime(t, `
		function mapstore.filter(obj)
			if obj.type ~= "street_segment" then
				return false
			end
			if obj.attrs.road_class == "4" then
				return false
			end
			return true, { label = obj.name .. "/" .. obj.band, car = mapstore.has_rights(obj.rights, 1) }
		end
	`)
	require.True(t, r.HasFilter())

	tests := []struct {
		name  string
		obj   Object
		keep  bool
		extra map[string]string
	}{
		{
			name:  "kept with attributes",
			obj:   Object{Type: "street_segment", Name: "Main", Band: 2, Rights: 3, Attrs: map[string]string{"road_class": "1"}},
			keep:  true,
			extra: map[string]string{"label": "Main/2", "car": "true"},
		},
		{
			name: "dropped by attribute",
			obj:  Object{Type: "street_segment", Attrs: map[string]string{"road_class": "4"}},
		},
		{
			name: "dropped by type",
			obj:  Object{Type: "water"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, extra, err := r.Filter(&tt.obj)
			require.NoError(t, err)
			assert.Equal(t, tt.keep, keep)
			assert.Equal(t, tt.extra, extra)
		})
	}
}

func TestFilterSeesPosition(t *testing.T) {
	r := newRuntime(t, `
		function mapstore.filter(obj)
			return obj.lat ~= nil and obj.lat > 50
		end
	`)
	keep, _, err := r.Filter(&Object{HasCoords: true, Lat: 52.5, Lon: 13.4})
	require.NoError(t, err)
	assert.True(t, keep)

	keep, _, err = r.Filter(&Object{})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestFilterRuntimeError(t *testing.T) {
	r := newRuntime(t, `
		function mapstore.filter(obj)
			error("boom")
		end
	`)
	_, _, err := r.Filter(&Object{Handle: 9})
	assert.ErrorContains(t, err, "boom")
}

func TestTypesTable(t *testing.T) {
	r := newRuntime(t, `
		function mapstore.filter(obj)
			return mapstore.types[obj.type] == 14
		end
	`)
	keep, _, err := r.Filter(&Object{Type: "point_of_interest"})
	require.NoError(t, err)
	assert.True(t, keep)
}

func TestPrintGoesToLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	r := NewRuntime(zap.New(core))
	defer r.Close()
	require.NoError(t, r.LoadString(`print("hello", 42)`))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "hello\t42", logs.All()[0].ContextMap()["msg"])
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.lua")
	require.NoError(t, os.WriteFile(path, []byte("function mapstore.filter(o) return true end"), 0o644))
	r := NewRuntime(zap.NewNop())
	defer r.Close()
	require.NoError(t, r.LoadFile(path))
	assert.True(t, r.HasFilter())

	assert.Error(t, r.LoadString("this is not lua"))
}
