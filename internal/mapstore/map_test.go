package mapstore

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/handle"
	"github.com/wegman-software/mapstore-go/internal/hashindex"
	"github.com/wegman-software/mapstore-go/internal/item"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

var testBox = geom.Box{MinLat: 0, MinLon: 0, MaxLat: 1_000_000, MaxLon: 1_000_000}

func c(lat, lon int32) geom.Coord { return geom.Coord{Lat: lat, Lon: lon} }

// sample is a small map: three chained street segments a-b-c forming one
// street in one municipal, a POI on a, and a lake.
type sample struct {
	m                 *Map
	a, b, c           *item.Item
	street, municipal *item.Item
	poi, water        *item.Item
}

func newSample(t *testing.T, opts ...Option) *sample {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop())}, opts...)
	m := New(Header{
		MapID:        7,
		Box:          testBox,
		Country:      44,
		DriveOnRight: true,
		Languages:    []uint8{1, 2},
		Currencies:   []uint16{978},
		Created:      time.Unix(1_700_000_000, 0).UTC(),
		Name:         "sample",
		Origin:       "test",
	}, opts...)

	require.NoError(t, m.Reserve(item.TypeStreetSegment, 3))
	require.NoError(t, m.Reserve(item.TypeStreet, 1))
	require.NoError(t, m.Reserve(item.TypeMunicipal, 1))
	require.NoError(t, m.Reserve(item.TypePointOfInterest, 1))
	require.NoError(t, m.Reserve(item.TypeWater, 1))

	s := &sample{m: m}
	add := func(typ item.Type, band int) *item.Item {
		it, err := m.AddEntity(typ, band)
		require.NoError(t, err)
		return it
	}
	s.a = add(item.TypeStreetSegment, 0)
	s.b = add(item.TypeStreetSegment, 0)
	s.c = add(item.TypeStreetSegment, 0)
	s.municipal = add(item.TypeMunicipal, 0)
	s.street = add(item.TypeStreet, 1)
	s.poi = add(item.TypePointOfInterest, 2)
	s.water = add(item.TypeWater, 3)

	s.a.Gfx = geom.NewLine(c(100, 100), c(100, 200))
	s.b.Gfx = geom.NewLine(c(100, 200), c(100, 300))
	s.c.Gfx = geom.NewLine(c(100, 300), c(100, 400))
	s.poi.Gfx = geom.NewPoint(c(150, 150))
	s.water.Gfx = geom.NewPolygon(c(5000, 5000), c(5000, 6000), c(6000, 6000), c(6000, 5000))

	a, b, cc := s.a.Handle, s.b.Handle, s.c.Handle
	require.NoError(t, m.SetNodes(s.a, [2]item.NodeSpec{
		{SpeedLimit: 50, Connections: []item.ConnectionSpec{
			{From: handle.Node(b, 1), TurnDirection: item.TurnAhead},
		}},
		{},
	}))
	require.NoError(t, m.SetNodes(s.b, [2]item.NodeSpec{
		{MajorRoad: true, Connections: []item.ConnectionSpec{
			{From: handle.Node(a, 1), TurnDirection: item.TurnLeft, Vehicles: item.VehiclePassengerCar,
				SignPosts: []item.SignPost{{Text: m.Strings().Add("Centre"), Priority: 2}}},
			{From: handle.Node(cc, 1), TurnDirection: item.TurnAhead},
		}},
		{LaneCount: 2},
	}))
	require.NoError(t, m.SetNodes(s.c, [2]item.NodeSpec{
		{SpeedLimit: 30, Connections: []item.ConnectionSpec{
			{From: handle.Node(b, 1), TurnDirection: item.TurnRight},
		}},
		{},
	}))

	for _, seg := range []*item.Item{s.a, s.b, s.c} {
		seg.Groups = []handle.Handle{s.street.Handle}
		m.AddName(seg, "Main Street", 1, item.NameOfficial)
	}
	s.street.Variant.(*item.Street).Members = []handle.Handle{a, b, cc}
	s.street.Groups = []handle.Handle{s.municipal.Handle}
	m.AddName(s.street, "Main Street", 1, item.NameOfficial)
	s.municipal.Variant.(*item.Area).Members = []handle.Handle{s.street.Handle}
	m.AddName(s.municipal, "Springfield", 1, item.NameOfficial)

	p := s.poi.Variant.(*item.PointOfInterest)
	p.ExternalID = 900
	p.Segment = a
	p.Side = item.SideLeft
	s.water.Variant.(*item.Feature).SubType = 2

	m.SetMapGfx(geom.NewPolygon(c(0, 0), c(0, 1_000_000), c(1_000_000, 1_000_000), c(1_000_000, 0)))
	m.AddExpansion(handle.Node(a, 1), handle.Node(cc, 0), []handle.Handle{handle.Node(b, 0), handle.Node(b, 1)})
	m.AddLandmark(handle.Node(a, 1), handle.Node(b, 0), Landmark{Item: s.poi.Handle, Importance: 1, Side: item.SideLeft})
	m.AddBoundarySegment(BoundarySegment{Item: cc, CloseNode: 1, Connections: [2][]ExternalConnection{
		nil,
		{{FromMap: 8, Connection: item.Connection{From: handle.Make(0, 40), VehicleRestriction: item.NoRestriction}}},
	}})
	m.SetCategories(s.poi.Handle, []uint16{5, 6})
	m.SetLanes(handle.Node(a, 1), handle.Node(b, 0), []Lane{0x01, 0x0102})
	m.SetIndexAreaOrder(s.municipal.Handle, 3)
	m.SetAccessRights(map[handle.Handle]uint32{s.poi.Handle: item.VehiclePedestrian})
	m.SetStreetSide(s.poi.Handle, item.SideLeft)
	m.SetAdminCentre(s.municipal.Handle, c(120, 120))
	m.SetRoadDisplayClass(a, 3)
	m.SetAreaDisplayClass(s.water.Handle, 2)
	return s
}

func assertSameItems(t *testing.T, want, got *Map) {
	t.Helper()
	require.Equal(t, want.Len(), got.Len())
	for it := range want.Items() {
		other, err := got.Lookup(it.Handle)
		require.NoError(t, err, it.Handle)
		assert.Equal(t, it, other)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newSample(t)
	path := filepath.Join(t.TempDir(), "sample.gmap")
	require.NoError(t, s.m.Save(path))
	assert.NoFileExists(t, path+".tmp")

	l, err := Load(path, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Empty(t, l.Warnings())

	assert.Equal(t, *s.m.Header(), *l.Header())
	assertSameItems(t, s.m, l)
	assert.Equal(t, s.m.MapGfx(), l.MapGfx())
	assert.Equal(t, "Springfield", l.Name(s.municipal.Handle))

	assert.Equal(t, item.VehiclePedestrian, l.AccessRights(s.poi.Handle))
	assert.Equal(t, AllRights, l.AccessRights(s.a.Handle))
	assert.Equal(t, s.m.Landmarks(handle.Node(s.a.Handle, 1), handle.Node(s.b.Handle, 0)),
		l.Landmarks(handle.Node(s.a.Handle, 1), handle.Node(s.b.Handle, 0)))
	assert.Equal(t, s.m.BoundarySegments(), l.BoundarySegments())
	assert.Equal(t, []uint16{5, 6}, l.Categories(s.poi.Handle))
	assert.Equal(t, []Lane{0x01, 0x0102}, l.Lanes(handle.Node(s.a.Handle, 1), handle.Node(s.b.Handle, 0)))
	order, ok := l.IndexAreaOrder(s.municipal.Handle)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), order)
	assert.Equal(t, item.SideLeft, l.StreetSide(s.poi.Handle))
	centre, ok := l.AdminCentre(s.municipal.Handle)
	assert.True(t, ok)
	assert.Equal(t, c(120, 120), centre)
	class, ok := l.RoadDisplayClass(s.a.Handle)
	assert.True(t, ok)
	assert.Equal(t, uint8(3), class)
	class, ok = l.AreaDisplayClass(s.water.Handle)
	assert.True(t, ok)
	assert.Equal(t, uint8(2), class)
	poi, ok := l.POIByExternalID(900)
	assert.True(t, ok)
	assert.Equal(t, s.poi.Handle, poi)

	assert.Equal(t, s.m.Restrictions(), l.Restrictions())
	assert.Equal(t, s.m.SignPosts(), l.SignPosts())
	assert.Equal(t, s.m.Expansions(), l.Expansions())

	assert.True(t, s.m.Index().Equal(l.Index()))
	rebuilt, err := l.RebuiltIndex()
	require.NoError(t, err)
	assert.True(t, rebuilt.Equal(l.Index()))

	for _, p := range []geom.Coord{c(150, 150), c(100, 260), c(5500, 5500), c(900_000, 900_000)} {
		wh, wd, wok := s.m.Closest(p, hashindex.Filter{})
		gh, gd, gok := l.Closest(p, hashindex.Filter{})
		assert.Equal(t, wok, gok)
		assert.Equal(t, wh, gh)
		assert.InDelta(t, wd, gd, 1e-9)
	}
	assert.Equal(t,
		s.m.WithinBox(geom.Box{MinLat: 0, MinLon: 0, MaxLat: 200, MaxLon: 250}, hashindex.Filter{}),
		l.WithinBox(geom.Box{MinLat: 0, MinLon: 0, MaxLat: 200, MaxLon: 250}, hashindex.Filter{}))

	names := make([]string, 0, len(l.Sections()))
	for _, sec := range l.Sections() {
		names = append(names, sec.Name)
	}
	assert.Contains(t, names, "hash index")
	assert.Contains(t, names, "street_segment")
	assert.Contains(t, names, "access rights")
}

func TestHandlesStableAcrossRemoval(t *testing.T) {
	s := newSample(t)
	bh := s.b.Handle
	removed := roaring.New()
	removed.Add(uint32(bh))
	assert.Equal(t, 1, s.m.RemoveEntities(removed))

	// pointers taken before the removal still describe the removed item
	assert.Equal(t, bh, s.b.Handle)
	assert.Equal(t, item.TypeStreetSegment, s.b.Type())
	_, err := s.m.Lookup(bh)
	assert.True(t, maperr.IsConsistency(err))

	path := filepath.Join(t.TempDir(), "removed.gmap")
	require.NoError(t, s.m.Save(path))
	l, err := Load(path, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	_, err = l.Lookup(bh)
	assert.True(t, maperr.IsConsistency(err))
	assert.ErrorIs(t, err, maperr.ErrOutOfRange)

	for _, h := range []handle.Handle{s.a.Handle, s.c.Handle, s.poi.Handle} {
		it, err := l.Lookup(h)
		require.NoError(t, err)
		assert.Equal(t, h, it.Handle)
	}
	assert.Equal(t, 4, l.BandLen(0))
	street, err := l.Lookup(s.street.Handle)
	require.NoError(t, err)
	assert.Equal(t, []handle.Handle{s.a.Handle, s.c.Handle}, street.Variant.(*item.Street).Members)

	n, err := l.LookupNode(handle.Node(s.a.Handle, 0))
	require.NoError(t, err)
	assert.Empty(t, n.Connections)
	assert.Empty(t, l.Landmarks(handle.Node(s.a.Handle, 1), handle.Node(bh, 0)))
	assert.NoError(t, l.CheckConsistency())
}

func TestRemoveEntitiesCleansSideTables(t *testing.T) {
	s := newSample(t)
	require.NoError(t, s.m.BuildIndex(DefaultCellHint))
	poiH := s.poi.Handle

	h, _, ok := s.m.Closest(c(150, 150), hashindex.Filter{})
	require.True(t, ok)
	require.Equal(t, poiH, h)

	set := roaring.New()
	set.Add(uint32(poiH))
	set.Add(uint32(handle.Make(9, 9))) // unknown handles are ignored
	assert.Equal(t, 1, s.m.RemoveEntities(set))

	assert.Equal(t, AllRights, s.m.AccessRights(poiH))
	assert.Nil(t, s.m.Categories(poiH))
	assert.Equal(t, item.SideUnknown, s.m.StreetSide(poiH))
	_, ok = s.m.POIByExternalID(900)
	assert.False(t, ok)
	assert.Empty(t, s.m.Landmarks(handle.Node(s.a.Handle, 1), handle.Node(s.b.Handle, 0)))

	h, _, ok = s.m.Closest(c(150, 150), hashindex.Filter{Types: []item.Type{item.TypePointOfInterest}})
	assert.False(t, ok)
	assert.Equal(t, 0, s.m.RemoveEntities(set))
}

func TestRemoveEntitiesDropsSignPostsAndPOISegment(t *testing.T) {
	s := newSample(t)
	ah, bh := s.a.Handle, s.b.Handle
	edge := item.Edge{From: handle.Node(ah, 1), To: handle.Node(bh, 0)}
	require.Len(t, s.m.SignPosts().Get(edge), 1)
	require.Equal(t, ah, s.poi.Variant.(*item.PointOfInterest).Segment)

	set := roaring.New()
	set.Add(uint32(ah))
	assert.Equal(t, 1, s.m.RemoveEntities(set))

	assert.Empty(t, s.m.SignPosts().Get(edge))
	assert.Zero(t, s.m.SignPosts().Count())
	assert.Equal(t, handle.Invalid, s.poi.Variant.(*item.PointOfInterest).Segment)

	path := filepath.Join(t.TempDir(), "no-a.gmap")
	require.NoError(t, s.m.Save(path))
	l, err := Load(path, WithLogger(zap.NewNop()))
	require.NoError(t, err)

	assert.Empty(t, l.SignPosts().Get(edge))
	assert.Zero(t, l.SignPosts().Len())
	poi, err := l.Lookup(s.poi.Handle)
	require.NoError(t, err)
	assert.Equal(t, handle.Invalid, poi.Variant.(*item.PointOfInterest).Segment)
	assert.NoError(t, l.CheckConsistency())
}

func TestSaveRejectsAsymmetricGraph(t *testing.T) {
	build := func(country bool) *Map {
		m := New(Header{MapID: 1, Box: testBox, CountryMap: country}, WithLogger(zap.NewNop()))
		require.NoError(t, m.Reserve(item.TypeStreetSegment, 2))
		a, err := m.AddEntity(item.TypeStreetSegment, 0)
		require.NoError(t, err)
		b, err := m.AddEntity(item.TypeStreetSegment, 0)
		require.NoError(t, err)
		a.Gfx = geom.NewLine(c(0, 0), c(0, 10))
		b.Gfx = geom.NewLine(c(0, 10), c(0, 20))
		// A -> B only
		require.NoError(t, m.SetNodes(b, [2]item.NodeSpec{
			{Connections: []item.ConnectionSpec{{From: handle.Node(a.Handle, 1), TurnDirection: item.TurnAhead}}},
			{},
		}))
		return m
	}

	path := filepath.Join(t.TempDir(), "broken.gmap")
	err := build(false).Save(path)
	require.Error(t, err)
	var ce *maperr.ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, maperr.KindSymmetry, ce.Kind)
	assert.ErrorIs(t, err, maperr.ErrMissingOpposing)
	assert.NoFileExists(t, path)

	assert.NoError(t, build(true).Save(path))
	assert.FileExists(t, path)
}

func TestViolationsReportsDanglingConnections(t *testing.T) {
	m := New(Header{MapID: 1, Box: testBox}, WithLogger(zap.NewNop()))
	require.NoError(t, m.Reserve(item.TypeStreetSegment, 1))
	a, err := m.AddEntity(item.TypeStreetSegment, 0)
	require.NoError(t, err)
	require.NoError(t, m.SetNodes(a, [2]item.NodeSpec{
		{Connections: []item.ConnectionSpec{
			{From: handle.Node(handle.Make(4, 1), 0)},
			{From: handle.Node(handle.Make(4, 2), 0)},
		}},
		{},
	}))

	all := m.Violations(0)
	require.Len(t, all, 2)
	for _, v := range all {
		var ce *maperr.ConsistencyError
		require.True(t, errors.As(v, &ce))
		assert.Equal(t, maperr.KindHandle, ce.Kind)
	}
	assert.Len(t, m.Violations(1), 1)
}

func TestDecodeTruncated(t *testing.T) {
	s := newSample(t)
	require.NoError(t, s.m.BuildIndex(DefaultCellHint))
	data, err := s.m.Encode(CurrentVersion)
	require.NoError(t, err)

	for _, n := range []int{0, 3, 10, len(data) / 2, len(data) - 1} {
		_, err := Decode(data[:n], WithLogger(zap.NewNop()))
		assert.True(t, maperr.IsFormat(err), "cut at %d: %v", n, err)
	}
}

func TestDecodeRejectsBadHeader(t *testing.T) {
	s := newSample(t)
	data, err := s.m.Encode(CurrentVersion)
	require.NoError(t, err)

	bad := append([]byte(nil), data...)
	bad[0] = 'X'
	_, err = Decode(bad)
	assert.True(t, maperr.IsFormat(err))
	assert.ErrorIs(t, err, maperr.ErrBadMagic)

	bad = append([]byte(nil), data...)
	bad[8] = 9 // version byte after magic and header length
	_, err = Decode(bad)
	assert.True(t, maperr.IsFormat(err))
	assert.ErrorIs(t, err, maperr.ErrUnsupportedVersion)
}

func TestTrailingDataIsAWarning(t *testing.T) {
	s := newSample(t)
	data, err := s.m.Encode(CurrentVersion)
	require.NoError(t, err)
	data = append(data, 1, 2, 3)

	core, logs := observer.New(zapcore.WarnLevel)
	l, err := Decode(data, WithLogger(zap.New(core)))
	require.NoError(t, err)

	require.Len(t, l.Warnings(), 1)
	var td *maperr.UnknownTrailingData
	require.True(t, errors.As(l.Warnings()[0], &td))
	assert.Equal(t, "file", td.Section)
	assert.Equal(t, 3, td.Bytes)
	assert.Equal(t, 1, logs.FilterMessage("Unknown trailing data").Len())
	assertSameItems(t, s.m, l)
}

func TestVersion1HasNoSecondBody(t *testing.T) {
	s := newSample(t)
	data, err := s.m.Encode(Version1)
	require.NoError(t, err)

	l, err := Decode(data, WithLogger(zap.NewNop()))
	require.NoError(t, err)
	assert.Empty(t, l.Warnings())
	assert.Equal(t, uint8(Version1), l.Header().Version)
	assertSameItems(t, s.m, l)
	assert.Equal(t, AllRights, l.AccessRights(s.poi.Handle))
	_, ok := l.AdminCentre(s.municipal.Handle)
	assert.False(t, ok)
	assert.Equal(t, []uint16{5, 6}, l.Categories(s.poi.Handle))

	_, err = s.m.Encode(CurrentVersion + 1)
	assert.Error(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			s := newSample(t, WithCompression(codec))
			path := filepath.Join(t.TempDir(), "sample.gmap")
			require.NoError(t, s.m.Save(path))

			raw, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, envelopeMagic, string(raw[:4]))

			l, err := Load(path, WithLogger(zap.NewNop()))
			require.NoError(t, err)
			assertSameItems(t, s.m, l)
			assert.True(t, s.m.Index().Equal(l.Index()))

			raw[5]++ // uncompressed size
			_, err = Decode(raw)
			assert.True(t, maperr.IsFormat(err))
		})
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecNone, false},
		{"none", CodecNone, false},
		{"lz4", CodecLZ4, false},
		{"zstd", CodecZstd, false},
		{"gzip", CodecNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.gmap")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := Load(path)
	assert.True(t, maperr.IsFormat(err))
	assert.ErrorIs(t, err, maperr.ErrTruncated)
}

func TestArenaCapacity(t *testing.T) {
	m := New(Header{Box: testBox}, WithLogger(zap.NewNop()))
	require.NoError(t, m.Reserve(item.TypeWater, 2))
	for i := 0; i < 2; i++ {
		_, err := m.AddEntity(item.TypeWater, 0)
		require.NoError(t, err)
	}
	_, err := m.AddEntity(item.TypeWater, 0)
	assert.True(t, maperr.IsConsistency(err))
	assert.ErrorIs(t, err, maperr.ErrCapacity)
	assert.Equal(t, 2, m.BandLen(0))

	assert.Error(t, m.Reserve(item.TypeWater, 10))

	_, err = m.AddEntity(item.TypePark, 0)
	assert.ErrorIs(t, err, maperr.ErrCapacity)

	_, err = m.AddEntity(item.TypeWater, handle.NumBands)
	assert.ErrorIs(t, err, maperr.ErrOutOfRange)
	_, err = m.AddEntity(item.Type(16), 0)
	assert.Error(t, err)
}

func TestMunicipalRecycling(t *testing.T) {
	m := New(Header{Box: testBox}, WithLogger(zap.NewNop()))
	require.NoError(t, m.Reserve(item.TypeMunicipal, 5))
	require.NoError(t, m.Reserve(item.TypeWater, 2))

	add := func(typ item.Type, band int) handle.Handle {
		it, err := m.AddEntity(typ, band)
		require.NoError(t, err)
		return it.Handle
	}
	m0 := add(item.TypeMunicipal, 0)
	w1 := add(item.TypeWater, 0)
	add(item.TypeMunicipal, 0)
	assert.Equal(t, handle.Make(0, 0), m0)

	set := roaring.New()
	set.Add(uint32(m0))
	set.Add(uint32(w1))
	require.Equal(t, 2, m.RemoveEntities(set))

	assert.Equal(t, handle.Make(0, 0), add(item.TypeMunicipal, 0))
	assert.Equal(t, handle.Make(0, 1), add(item.TypeMunicipal, 0))
	assert.Equal(t, handle.Make(0, 3), add(item.TypeWater, 0), "other types never reuse slots")
	assert.Equal(t, handle.Make(1, 0), add(item.TypeMunicipal, 1))
	assert.Equal(t, 5, m.Len())
}

func TestLookup(t *testing.T) {
	s := newSample(t)

	got, err := s.m.Lookup(handle.Node(s.b.Handle, 1))
	require.NoError(t, err)
	assert.Same(t, s.b, got)

	for _, h := range []handle.Handle{handle.Invalid, handle.Make(0, 99), handle.Make(15, 0)} {
		_, err := s.m.Lookup(h)
		assert.True(t, maperr.IsConsistency(err), h)
		assert.ErrorIs(t, err, maperr.ErrOutOfRange)
	}

	_, err = s.m.LookupNode(s.poi.Handle)
	assert.ErrorIs(t, err, maperr.ErrNotRoutable)

	var band0 []handle.Handle
	for it := range s.m.ItemsInBand(0) {
		band0 = append(band0, it.Handle)
	}
	assert.Equal(t, []handle.Handle{s.a.Handle, s.b.Handle, s.c.Handle, s.municipal.Handle}, band0)
	assert.Empty(t, collect(s.m.ItemsInBand(-1)))
	assert.Equal(t, map[item.Type]int{
		item.TypeStreetSegment:   3,
		item.TypeStreet:          1,
		item.TypeMunicipal:       1,
		item.TypePointOfInterest: 1,
		item.TypeWater:           1,
	}, s.m.CountByType())
}

func collect(seq func(func(*item.Item) bool)) []*item.Item {
	var out []*item.Item
	for it := range seq {
		out = append(out, it)
	}
	return out
}

func TestRegion(t *testing.T) {
	s := newSample(t)

	got, err := s.m.Region(s.a.Handle, item.TypeMunicipal)
	require.NoError(t, err)
	assert.Same(t, s.municipal, got)

	got, err = s.m.Region(s.a.Handle, item.TypeStreet)
	require.NoError(t, err)
	assert.Same(t, s.street, got)

	got, err = s.m.Region(s.a.Handle, item.TypeZipCode)
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = s.m.Region(handle.Make(0, 50), item.TypeMunicipal)
	assert.Error(t, err)
}

func TestSetAccessRights(t *testing.T) {
	s := newSample(t)
	s.m.SetAccessRights(map[handle.Handle]uint32{
		s.a.Handle:   item.VehicleBicycle,
		s.poi.Handle: AllRights,
	})
	require.NoError(t, s.m.BuildIndex(DefaultCellHint))
	assert.Equal(t, item.VehicleBicycle, s.m.AccessRights(handle.Node(s.a.Handle, 1)))
	assert.Equal(t, AllRights, s.m.AccessRights(s.poi.Handle))

	bikes := hashindex.Filter{Rights: item.VehicleBicycle}
	assert.Equal(t, []handle.Handle{s.a.Handle, s.b.Handle, s.c.Handle, s.poi.Handle},
		s.m.WithinBox(geom.Box{MinLat: 0, MinLon: 0, MaxLat: 1000, MaxLon: 1000}, bikes))
	cars := hashindex.Filter{Rights: item.VehiclePassengerCar}
	assert.Equal(t, []handle.Handle{s.b.Handle, s.c.Handle, s.poi.Handle},
		s.m.WithinBox(geom.Box{MinLat: 0, MinLon: 0, MaxLat: 1000, MaxLon: 1000}, cars))
}

func TestGraphOperations(t *testing.T) {
	s := newSample(t)
	a, b, cc := s.a.Handle, s.b.Handle, s.c.Handle

	nb, err := s.m.LookupNode(handle.Node(b, 0))
	require.NoError(t, err)
	conn := nb.Connection(handle.Node(a, 1))
	require.NotNil(t, conn)

	opp, err := s.m.OpposingConnection(conn, handle.Node(b, 0))
	require.NoError(t, err)
	require.NotNil(t, opp)
	assert.Equal(t, handle.Node(b, 1), opp.From)

	mask, err := s.m.Restrictions().Mask(conn.VehicleRestriction)
	require.NoError(t, err)
	assert.Equal(t, item.VehiclePassengerCar, mask)
	require.Len(t, s.m.SignPosts().Get(item.Edge{From: handle.Node(a, 1), To: handle.Node(b, 0)}), 1)

	cosLat := testBox.CosLat()
	lenB := s.b.Gfx.Length(cosLat)
	cost, err := s.m.ConnectionCost(conn, handle.Node(b, 0))
	require.NoError(t, err)
	assert.InDelta(t, lenB, cost.Length, 1e-9)
	assert.InDelta(t, item.TravelTime(lenB, 0), cost.Time, 1e-9)
	assert.Equal(t, 20.0, cost.StandStill, "left turn onto a major road")

	chain := s.m.ExpandNodeChain(handle.Node(a, 1), handle.Node(cc, 0))
	assert.Equal(t, []handle.Handle{handle.Node(a, 1), handle.Node(b, 0), handle.Node(b, 1), handle.Node(cc, 0)}, chain)

	lenC := s.c.Gfx.Length(cosLat)
	total, err := s.m.ChainCost(handle.Node(a, 1), handle.Node(cc, 0))
	require.NoError(t, err)
	assert.InDelta(t, lenB+lenC, total.Length, 1e-9)
	assert.InDelta(t, item.TravelTime(lenB, 0)+item.TravelTime(lenC, 30), total.Time, 1e-9)
	assert.Equal(t, 20.0+10.0, total.StandStill)

	_, err = s.m.ChainCost(handle.Node(cc, 1), handle.Node(a, 0))
	assert.ErrorIs(t, err, maperr.ErrOutOfRange)

	assert.NoError(t, s.m.CheckConsistency())
}

func TestSpatialQueries(t *testing.T) {
	s := newSample(t)
	require.NoError(t, s.m.BuildIndex(16))

	h, d, ok := s.m.Closest(c(150, 150), hashindex.Filter{})
	require.True(t, ok)
	assert.Equal(t, s.poi.Handle, h)
	assert.Zero(t, d)

	h, _, ok = s.m.Closest(c(150, 150), hashindex.Filter{Types: []item.Type{item.TypeWater}})
	require.True(t, ok)
	assert.Equal(t, s.water.Handle, h)

	within := s.m.WithinRadius(c(100, 100), 75*geom.MetersPerUnit, hashindex.Filter{})
	assert.Equal(t, []handle.Handle{s.a.Handle, s.poi.Handle}, within)

	assert.Equal(t, []handle.Handle{s.water.Handle},
		s.m.WithinBox(geom.Box{MinLat: 5500, MinLon: 5500, MaxLat: 5600, MaxLon: 5600}, hashindex.Filter{}))
}

func TestAdminCentresStaySorted(t *testing.T) {
	m := New(Header{Box: testBox}, WithLogger(zap.NewNop()))
	for _, h := range []handle.Handle{handle.Make(0, 5), handle.Make(0, 1), handle.Make(0, 3)} {
		m.SetAdminCentre(h, c(int32(h), 0))
	}
	m.SetAdminCentre(handle.Make(0, 3), c(33, 33))

	var got []handle.Handle
	for _, ac := range m.adminCentres {
		got = append(got, ac.Item)
	}
	assert.Equal(t, []handle.Handle{handle.Make(0, 1), handle.Make(0, 3), handle.Make(0, 5)}, got)
	centre, ok := m.AdminCentre(handle.Make(0, 3))
	assert.True(t, ok)
	assert.Equal(t, c(33, 33), centre)
}
