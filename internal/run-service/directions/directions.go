// Package directions talks to an OSRM server to turn a pair of coordinates
// into a walkable polyline.
package directions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"run-route/internal/geo"
	"run-route/pkg/logger"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var (
	ErrNoRoute     = errors.New("no route between points")
	ErrBadResponse = errors.New("unexpected directions response")
)

// Step is one maneuver of a leg, used for surface heuristics.
type Step struct {
	Instruction string  `json:"instruction"`
	Distance    float64 `json:"distance"`
}

// Leg is the routed path between two coordinates.
type Leg struct {
	Path     []geo.Coordinate
	Steps    []Step
	Distance float64
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64           `json:"distance"`
		Geometry *geojson.Geometry `json:"geometry"`
		Legs     []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string `json:"type"`
		Modifier string `json:"modifier"`
	} `json:"maneuver"`
}

// OSRMClient requests pedestrian routes from an OSRM HTTP server.
type OSRMClient struct {
	baseURL string
	profile string
	http    *http.Client
	log     logger.Logger
}

func NewOSRMClient(baseURL, profile string, timeout time.Duration, log logger.Logger) *OSRMClient {
	return &OSRMClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		profile: profile,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Route returns the single best walking route from source to target.
func (c *OSRMClient) Route(ctx context.Context, source, target geo.Coordinate) (Leg, error) {
	endpoint := fmt.Sprintf("%s/route/v1/%s/%.6f,%.6f;%.6f,%.6f",
		c.baseURL, url.PathEscape(c.profile), source.Lng, source.Lat, target.Lng, target.Lat)
	query := url.Values{
		"overview":     {"full"},
		"geometries":   {"geojson"},
		"steps":        {"true"},
		"alternatives": {"false"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Leg{}, fmt.Errorf("failed to build directions request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Leg{}, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Leg{}, fmt.Errorf("failed to read directions response: %w", err)
	}

	var parsed osrmResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Leg{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	if resp.StatusCode != http.StatusOK || parsed.Code != "Ok" {
		c.log.WithFields(logger.LogFields{
			"status": resp.StatusCode,
			"code":   parsed.Code,
		}).Debug("osrm_no_route", parsed.Message)
		if parsed.Code == "NoRoute" || parsed.Code == "NoSegment" {
			return Leg{}, ErrNoRoute
		}
		return Leg{}, fmt.Errorf("%w: status %d code %q", ErrBadResponse, resp.StatusCode, parsed.Code)
	}
	if len(parsed.Routes) == 0 || parsed.Routes[0].Geometry == nil {
		return Leg{}, ErrNoRoute
	}

	route := parsed.Routes[0]
	line, ok := route.Geometry.Geometry().(orb.LineString)
	if !ok || len(line) == 0 {
		return Leg{}, ErrNoRoute
	}

	leg := Leg{Path: geo.FromLineString(line), Distance: route.Distance}
	for _, l := range route.Legs {
		for _, s := range l.Steps {
			leg.Steps = append(leg.Steps, Step{Instruction: instruction(s), Distance: s.Distance})
		}
	}
	return leg, nil
}

// instruction renders an OSRM maneuver as text, e.g. "turn left onto Park Road".
func instruction(s osrmStep) string {
	var parts []string
	if s.Maneuver.Type != "" {
		parts = append(parts, s.Maneuver.Type)
	}
	if s.Maneuver.Modifier != "" {
		parts = append(parts, s.Maneuver.Modifier)
	}
	if s.Name != "" {
		parts = append(parts, "onto", s.Name)
	}
	return strings.Join(parts, " ")
}
