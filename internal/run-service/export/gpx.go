// Package export writes planned routes and recorded runs as GPX 1.1.
package export

import (
	"errors"
	"fmt"

	"run-route/internal/geo"
	"run-route/internal/run-service/analyzer"
	"run-route/internal/run-service/tracking"

	"github.com/tkrajina/gpxgo/gpx"
)

const creator = "run-route"

var ErrEmptyPath = errors.New("nothing to export")

// GPX writes path as a single-segment track named name. Waypoints, when
// given, are added as <wpt> entries. Every track point carries the
// elevation reported by provider; a nil provider leaves elevation out.
func GPX(name string, waypoints, path []geo.Coordinate, provider analyzer.ElevationProvider) ([]byte, error) {
	if len(path) == 0 {
		return nil, ErrEmptyPath
	}

	points := make([]gpx.GPXPoint, len(path))
	for i, c := range path {
		points[i] = point(c, provider)
	}

	doc := document(name, points)
	for i, w := range waypoints {
		wpt := point(w, provider)
		wpt.Name = fmt.Sprintf("WP%d", i)
		doc.Waypoints = append(doc.Waypoints, wpt)
	}
	return encode(doc)
}

// Run writes recorded fixes as a timestamped track.
func Run(name string, fixes []tracking.Fix) ([]byte, error) {
	if len(fixes) == 0 {
		return nil, ErrEmptyPath
	}
	points := make([]gpx.GPXPoint, len(fixes))
	for i, f := range fixes {
		points[i] = point(f.Coordinate, nil)
		points[i].Timestamp = f.Time.UTC()
	}
	return encode(document(name, points))
}

func document(name string, points []gpx.GPXPoint) *gpx.GPX {
	return &gpx.GPX{
		Version: "1.1",
		Creator: creator,
		Name:    name,
		Tracks: []gpx.GPXTrack{{
			Name:     name,
			Segments: []gpx.GPXTrackSegment{{Points: points}},
		}},
	}
}

func point(c geo.Coordinate, provider analyzer.ElevationProvider) gpx.GPXPoint {
	p := gpx.GPXPoint{Point: gpx.Point{Latitude: c.Lat, Longitude: c.Lng}}
	if provider != nil {
		p.Elevation.SetValue(provider.Elevation(c))
	}
	return p
}

func encode(doc *gpx.GPX) ([]byte, error) {
	b, err := doc.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
	if err != nil {
		return nil, fmt.Errorf("failed to encode gpx: %w", err)
	}
	return b, nil
}
