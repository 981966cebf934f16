package cmd

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/mapstore-go/internal/geom"
	"github.com/wegman-software/mapstore-go/internal/mapstore"
	"github.com/wegman-software/mapstore-go/internal/progress"
)

var infoFormat string

var infoCmd = &cobra.Command{
	Use:   "info <map.gmap>...",
	Short: "Print map headers, item counts and file sections",
	Args:  cobra.MinimumNArgs(1),
	Run:   runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().StringVar(&infoFormat, "format", "yaml", "Output format: yaml or json")
}

type sectionInfo struct {
	Name   string `yaml:"name" json:"name"`
	Offset int    `yaml:"offset" json:"offset"`
	Size   string `yaml:"size" json:"size"`
}

type boxInfo struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

type mapInfo struct {
	Path         string         `yaml:"path" json:"path"`
	MapID        uint32         `yaml:"map_id" json:"map_id"`
	Name         string         `yaml:"name,omitempty" json:"name,omitempty"`
	Origin       string         `yaml:"origin,omitempty" json:"origin,omitempty"`
	Version      uint8          `yaml:"version" json:"version"`
	Country      uint32         `yaml:"country,omitempty" json:"country,omitempty"`
	CountryMap   bool           `yaml:"country_map,omitempty" json:"country_map,omitempty"`
	DriveOnRight bool           `yaml:"drive_on_right" json:"drive_on_right"`
	Created      time.Time      `yaml:"created" json:"created"`
	Box          *boxInfo       `yaml:"box,omitempty" json:"box,omitempty"`
	Languages    []int          `yaml:"languages,omitempty" json:"languages,omitempty"`
	Items        int            `yaml:"items" json:"items"`
	Types        map[string]int `yaml:"types" json:"types"`
	Sections     []sectionInfo  `yaml:"sections,omitempty" json:"sections,omitempty"`
	Warnings     []string       `yaml:"warnings,omitempty" json:"warnings,omitempty"`
}

func describe(path string, m *mapstore.Map) *mapInfo {
	h := m.Header()
	info := &mapInfo{
		Path:         path,
		MapID:        h.MapID,
		Name:         h.Name,
		Origin:       h.Origin,
		Version:      h.Version,
		Country:      h.Country,
		CountryMap:   h.CountryMap,
		DriveOnRight: h.DriveOnRight,
		Created:      h.Created,
		Items:        m.Len(),
		Types:        make(map[string]int),
	}
	if !h.Box.IsEmpty() {
		minLat, minLon := geom.Coord{Lat: h.Box.MinLat, Lon: h.Box.MinLon}.Degrees()
		maxLat, maxLon := geom.Coord{Lat: h.Box.MaxLat, Lon: h.Box.MaxLon}.Degrees()
		info.Box = &boxInfo{MinLat: minLat, MinLon: minLon, MaxLat: maxLat, MaxLon: maxLon}
	}
	for _, l := range h.Languages {
		info.Languages = append(info.Languages, int(l))
	}
	for t, n := range m.CountByType() {
		info.Types[t.String()] = n
	}
	for _, s := range m.Sections() {
		info.Sections = append(info.Sections, sectionInfo{
			Name:   s.Name,
			Offset: s.Offset,
			Size:   progress.FormatBytes(int64(s.Size)),
		})
	}
	for _, w := range m.Warnings() {
		info.Warnings = append(info.Warnings, w.Error())
	}
	return info
}

func writeInfo(w io.Writer, infos []*mapInfo, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(infos)
	}
	return fmt.Errorf("unknown format %q", format)
}

func runInfo(cmd *cobra.Command, args []string) {
	infos := make([]*mapInfo, 0, len(args))
	for _, path := range args {
		m, err := mapstore.Load(path, mapOptions()...)
		if err != nil {
			exitWithError("failed to load map", err)
		}
		infos = append(infos, describe(path, m))
	}
	slices.SortStableFunc(infos, func(a, b *mapInfo) int { return cmp.Compare(a.MapID, b.MapID) })
	if err := writeInfo(os.Stdout, infos, infoFormat); err != nil {
		exitWithError("failed to write info", err)
	}
}
