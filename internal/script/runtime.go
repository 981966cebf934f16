// Package script runs Lua export filters over map items.
//
// A filter script defines mapstore.filter(object). The function returns
// false to drop the item, or true plus an optional table of attributes to
// add or override in the exported row. A script without a filter function
// keeps everything.
package script

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/wegman-software/mapstore-go/internal/item"
)

// Object is the view of one item handed to the filter.
type Object struct {
	Handle uint32
	Type   string
	Band   int
	Name   string
	Rights uint32
	Attrs  map[string]string
	// Position of the first coordinate, in degrees
	Lat, Lon  float64
	HasCoords bool
	Closed    bool
	NumCoords int
}

// Runtime manages the Lua interpreter and the mapstore API. A Runtime is
// not shared between goroutines; exporters create one per worker.
type Runtime struct {
	L      *lua.LState
	log    *zap.Logger
	mu     sync.Mutex
	filter lua.LValue
}

// NewRuntime creates a new Lua runtime with the mapstore API
func NewRuntime(log *zap.Logger) *Runtime {
	r := &Runtime{
		L:   lua.NewState(lua.Options{SkipOpenLibs: false}),
		log: log,
	}
	r.registerAPI()
	return r
}

// Close releases Lua resources
func (r *Runtime) Close() {
	r.L.Close()
}

func (r *Runtime) registerAPI() {
	api := r.L.NewTable()
	api.RawSetString("version", lua.LString("1.0.0"))

	types := r.L.NewTable()
	for _, t := range item.AllTypes() {
		types.RawSetString(t.String(), lua.LNumber(t))
	}
	api.RawSetString("types", types)

	r.L.SetField(api, "has_rights", r.L.NewFunction(hasRights))
	r.L.SetGlobal("mapstore", api)
	r.L.SetGlobal("print", r.L.NewFunction(r.luaPrint))
}

// LoadFile loads and executes a Lua filter file
func (r *Runtime) LoadFile(path string) error {
	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to load Lua file: %w", err)
	}
	r.extractCallbacks()
	return nil
}

// LoadString loads and executes Lua code from a string
func (r *Runtime) LoadString(code string) error {
	if err := r.L.DoString(code); err != nil {
		return fmt.Errorf("failed to load Lua code: %w", err)
	}
	r.extractCallbacks()
	return nil
}

func (r *Runtime) extractCallbacks() {
	if api, ok := r.L.GetGlobal("mapstore").(*lua.LTable); ok {
		r.filter = api.RawGetString("filter")
	}
}

// HasFilter reports whether the script defined mapstore.filter.
func (r *Runtime) HasFilter() bool {
	return r.filter != nil && r.filter.Type() == lua.LTFunction
}

// Filter runs mapstore.filter on obj. extra holds the attributes the
// script returned, nil when it returned none.
func (r *Runtime) Filter(obj *Object) (keep bool, extra map[string]string, err error) {
	if !r.HasFilter() {
		return true, nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.L.CallByParam(lua.P{
		Fn:      r.filter,
		NRet:    2,
		Protect: true,
	}, r.objectToLua(obj)); err != nil {
		return false, nil, fmt.Errorf("lua filter error on %d: %w", obj.Handle, err)
	}
	ret, attrs := r.L.Get(-2), r.L.Get(-1)
	r.L.Pop(2)

	keep = lua.LVAsBool(ret)
	if tbl, ok := attrs.(*lua.LTable); ok && keep {
		extra = tableToStrings(tbl)
	}
	return keep, extra, nil
}

// objectToLua converts an Object to a Lua table
func (r *Runtime) objectToLua(obj *Object) *lua.LTable {
	L := r.L
	tbl := L.NewTable()
	tbl.RawSetString("handle", lua.LNumber(obj.Handle))
	tbl.RawSetString("type", lua.LString(obj.Type))
	tbl.RawSetString("band", lua.LNumber(obj.Band))
	tbl.RawSetString("name", lua.LString(obj.Name))
	tbl.RawSetString("rights", lua.LNumber(obj.Rights))
	tbl.RawSetString("closed", lua.LBool(obj.Closed))
	tbl.RawSetString("num_coords", lua.LNumber(obj.NumCoords))
	if obj.HasCoords {
		tbl.RawSetString("lat", lua.LNumber(obj.Lat))
		tbl.RawSetString("lon", lua.LNumber(obj.Lon))
	}

	attrs := L.NewTable()
	for k, v := range obj.Attrs {
		attrs.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("attrs", attrs)
	return tbl
}

// tableToStrings converts the string-keyed entries of a Lua table
func tableToStrings(tbl *lua.LTable) map[string]string {
	out := make(map[string]string)
	tbl.ForEach(func(key, value lua.LValue) {
		k, ok := key.(lua.LString)
		if !ok {
			return
		}
		switch v := value.(type) {
		case lua.LString, lua.LNumber:
			out[string(k)] = v.String()
		case lua.LBool:
			out[string(k)] = v.String()
		}
	})
	return out
}

// hasRights implements mapstore.has_rights(rights, mask)
func hasRights(L *lua.LState) int {
	rights := uint32(L.CheckNumber(1))
	mask := uint32(L.CheckNumber(2))
	L.Push(lua.LBool(rights&mask != 0))
	return 1
}

// luaPrint routes print to the logger
func (r *Runtime) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	r.log.Info("Lua print", zap.String("msg", strings.Join(parts, "\t")))
	return 0
}
