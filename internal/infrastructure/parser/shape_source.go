package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"QualityMarker/internal/config"
	"QualityMarker/internal/discovery"
)

// ShapeSource resolves the card shapes enabled by configuration.
type ShapeSource struct {
	registry *discovery.Registry
	cfg      config.ShapesConfig
	logger   *slog.Logger
}

// NewShapeSource wires the shape registry with config-defined shapes.
func NewShapeSource(reg *discovery.Registry, cfg config.ShapesConfig, log *slog.Logger) *ShapeSource {
	return &ShapeSource{
		registry: reg,
		cfg:      cfg,
		logger:   log,
	}
}

// Shapes registers custom shapes and returns the enabled set. Custom shapes
// are always enabled.
func (s *ShapeSource) Shapes() ([]discovery.Shape, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("shape registry is not configured")
	}

	var shapes []discovery.Shape
	for _, name := range s.cfg.Enabled {
		shape, err := s.registry.Resolve(strings.TrimSpace(name))
		if err != nil {
			return nil, fmt.Errorf("enabled shapes: %w", err)
		}
		s.debug("shape enabled", "shape", shape.Name, "selector", shape.Selector)
		shapes = append(shapes, shape)
	}

	for _, custom := range s.cfg.Custom {
		shape, err := toShape(custom)
		if err != nil {
			return nil, fmt.Errorf("custom shape %q: %w", custom.Name, err)
		}
		s.registry.Register(shape)
		s.debug("custom shape registered", "shape", shape.Name, "selector", shape.Selector)
		shapes = append(shapes, shape)
	}

	if len(shapes) == 0 {
		return nil, fmt.Errorf("no card shapes enabled")
	}
	return shapes, nil
}

func toShape(cfg config.ShapeConfig) (discovery.Shape, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return discovery.Shape{}, fmt.Errorf("name is required")
	}
	if strings.TrimSpace(cfg.Selector) == "" {
		return discovery.Shape{}, fmt.Errorf("selector is required")
	}
	if strings.TrimSpace(cfg.Container) == "" {
		return discovery.Shape{}, fmt.Errorf("container is required")
	}

	link := cfg.Link
	if link == "" {
		link = videoLinkSelector
	}

	placement := discovery.LoaderPrepend
	switch strings.ToLower(strings.TrimSpace(cfg.Loader)) {
	case "", string(discovery.LoaderPrepend):
	case string(discovery.LoaderAppend):
		placement = discovery.LoaderAppend
	default:
		return discovery.Shape{}, fmt.Errorf("unknown loader placement %q", cfg.Loader)
	}

	return discovery.Shape{
		Name:              cfg.Name,
		Selector:          cfg.Selector,
		LinkSelector:      link,
		ContainerSelector: cfg.Container,
		LoaderPlacement:   placement,
	}, nil
}

func (s *ShapeSource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
