package mapstore

import (
	"fmt"
	"time"

	"github.com/wegman-software/mapstore-go/internal/databuf"
	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/maperr"
)

// File format versions.
const (
	// Version 1 files end after body 1.
	Version1 = 1
	// CurrentVersion adds body 2 with access rights and display tables.
	CurrentVersion = 2
)

const (
	fileMagic        = "GMAP"
	headerDriveRight = 0x01
	headerGroupOrder = 0x02
	headerCountryMap = 0x04
)

// Header describes a map file.
type Header struct {
	Version uint8
	MapID   uint32
	Box     geom.Box
	Country uint32

	DriveOnRight              bool
	GroupsInLocationNameOrder bool
	// CountryMap marks overview maps; their graphs are not checked for
	// symmetry.
	CountryMap bool

	Languages  []uint8
	Currencies []uint16

	Created              time.Time
	TrueCreated          time.Time
	WASPTime             time.Time
	DynamicExtradataTime time.Time

	Name   string
	Origin string
}

func putTime(w *databuf.Writer, t time.Time) {
	if t.IsZero() {
		w.I64(0)
		return
	}
	w.I64(t.Unix())
}

func getTime(r *databuf.Reader) time.Time {
	v := r.I64()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(v, 0).UTC()
}

func (h *Header) encode(w *databuf.Writer) error {
	if len(h.Languages) > 0xff || len(h.Currencies) > 0xff {
		return fmt.Errorf("map %d: too many languages or currencies", h.MapID)
	}
	w.U8(h.Version)
	w.U32(h.MapID)
	w.I32(h.Box.MinLat)
	w.I32(h.Box.MinLon)
	w.I32(h.Box.MaxLat)
	w.I32(h.Box.MaxLon)
	w.U32(h.Country)
	var flags uint8
	if h.DriveOnRight {
		flags |= headerDriveRight
	}
	if h.GroupsInLocationNameOrder {
		flags |= headerGroupOrder
	}
	if h.CountryMap {
		flags |= headerCountryMap
	}
	w.U8(flags)
	w.U8(uint8(len(h.Languages)))
	for _, l := range h.Languages {
		w.U8(l)
	}
	w.U8(uint8(len(h.Currencies)))
	for _, c := range h.Currencies {
		w.U16(c)
	}
	putTime(w, h.Created)
	putTime(w, h.TrueCreated)
	putTime(w, h.WASPTime)
	putTime(w, h.DynamicExtradataTime)
	w.Str(h.Name)
	w.Str(h.Origin)
	return nil
}

func (h *Header) decode(r *databuf.Reader) error {
	h.Version = r.U8()
	if err := r.Err(); err != nil {
		return err
	}
	if h.Version < Version1 || h.Version > CurrentVersion {
		r.Fail(fmt.Errorf("%w: %d", maperr.ErrUnsupportedVersion, h.Version))
		return r.Err()
	}
	h.MapID = r.U32()
	h.Box = geom.Box{MinLat: r.I32(), MinLon: r.I32(), MaxLat: r.I32(), MaxLon: r.I32()}
	h.Country = r.U32()
	flags := r.U8()
	h.DriveOnRight = flags&headerDriveRight != 0
	h.GroupsInLocationNameOrder = flags&headerGroupOrder != 0
	h.CountryMap = flags&headerCountryMap != 0

	if n := int(r.U8()); n > 0 {
		h.Languages = make([]uint8, n)
		for i := range h.Languages {
			h.Languages[i] = r.U8()
		}
	}
	if n := int(r.U8()); n > 0 {
		h.Currencies = make([]uint16, n)
		for i := range h.Currencies {
			h.Currencies[i] = r.U16()
		}
	}
	h.Created = getTime(r)
	h.TrueCreated = getTime(r)
	h.WASPTime = getTime(r)
	h.DynamicExtradataTime = getTime(r)
	h.Name = r.Str()
	h.Origin = r.Str()
	return r.Err()
}
