package compiler

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
)

// Option customises a compilation.
type Option func(*compiler)

// WithLogger sets the logger used to trace compilation steps.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(c *compiler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

type compiler struct {
	logger loggingpkg.ServiceLogger
}

// Compile builds the record of desc for the given instance. No partial record is
// ever returned: on error the result is nil.
func Compile(desc *model.Descriptor, instance uuid.UUID, opts ...Option) (*model.Record, error) {
	c := &compiler{logger: loggingpkg.NewNopLogger()}
	for _, opt := range opts {
		opt(c)
	}
	if desc == nil {
		return nil, fmt.Errorf("%w: descriptor is nil", errspkg.ErrUncompleted)
	}
	return c.compile(desc, instance)
}

func (c *compiler) compile(desc *model.Descriptor, instance uuid.UUID) (*model.Record, error) {
	log := c.logger.With(loggingpkg.LogFields{"flow": desc.Flow, "instance": instance.String()})
	removed := model.NodesToRemove(desc.Flags)

	record := &model.Record{
		UUID:       instance,
		Flow:       desc.Flow,
		Operators:  make(map[model.NodeID]model.OperatorRecord, len(desc.Operators)),
		Sinks:      make(map[model.NodeID]model.SinkRecord, len(desc.Sinks)),
		Sources:    make(map[model.NodeID]model.SourceRecord, len(desc.Sources)),
		Connectors: []model.ConnectorRecord{},
		Links:      []model.LinkDescriptor{},
	}

	kinds := make(map[model.NodeID]string)
	claim := func(id model.NodeID, kind string) error {
		if prev, ok := kinds[id]; ok {
			return fmt.Errorf("%w: %q used by %s and %s", errspkg.ErrDuplicateNode, id, prev, kind)
		}
		kinds[id] = kind
		return nil
	}

	place := func(id model.NodeID) (model.RuntimeID, error) {
		rt, ok := desc.Mapping[id]
		if !ok {
			return "", errspkg.MissingConfigurationError{Node: string(id)}
		}
		return rt, nil
	}

	for _, o := range desc.Operators {
		if _, skip := removed[o.ID]; skip {
			continue
		}
		if err := claim(o.ID, "operator"); err != nil {
			return nil, err
		}
		rt, err := place(o.ID)
		if err != nil {
			return nil, err
		}
		or := model.OperatorRecord{
			ID:            o.ID,
			Inputs:        slices.Clone(o.Inputs),
			Outputs:       slices.Clone(o.Outputs),
			URI:           o.URI,
			Configuration: model.MergeConfigurations(desc.GlobalConfiguration, o.Configuration),
			Runtime:       rt,
			InputPolicy:   o.InputPolicy,
		}
		if o.Deadline != nil {
			d, err := o.Deadline.ToDuration()
			if err != nil {
				return nil, fmt.Errorf("%w: deadline of %q: %v", errspkg.ErrParsing, o.ID, err)
			}
			or.Deadline = &d
		}
		record.Operators[o.ID] = or
	}

	for _, s := range desc.Sources {
		if _, skip := removed[s.ID]; skip {
			continue
		}
		if err := claim(s.ID, "source"); err != nil {
			return nil, err
		}
		rt, err := place(s.ID)
		if err != nil {
			return nil, err
		}
		sr := model.SourceRecord{
			ID:            s.ID,
			Output:        s.Output,
			URI:           s.URI,
			Configuration: model.MergeConfigurations(desc.GlobalConfiguration, s.Configuration),
			Runtime:       rt,
		}
		if s.Period != nil {
			p, err := s.Period.ToDuration()
			if err != nil {
				return nil, fmt.Errorf("%w: period of %q: %v", errspkg.ErrParsing, s.ID, err)
			}
			sr.Period = &p
		}
		record.Sources[s.ID] = sr
	}

	for _, s := range desc.Sinks {
		if _, skip := removed[s.ID]; skip {
			continue
		}
		if err := claim(s.ID, "sink"); err != nil {
			return nil, err
		}
		rt, err := place(s.ID)
		if err != nil {
			return nil, err
		}
		record.Sinks[s.ID] = model.SinkRecord{
			ID:            s.ID,
			Input:         s.Input,
			URI:           s.URI,
			Configuration: model.MergeConfigurations(desc.GlobalConfiguration, s.Configuration),
			Runtime:       rt,
		}
	}

	for _, d := range desc.Deadlines {
		if _, skip := removed[d.From.Node]; skip {
			continue
		}
		if _, skip := removed[d.To.Node]; skip {
			continue
		}
		dr, err := d.ToRecord()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errspkg.ErrParsing, err)
		}
		record.EndToEndDeadlines = append(record.EndToEndDeadlines, dr)
	}

	loops := make([]model.LoopDescriptor, 0, len(desc.Loops))
	for _, l := range desc.Loops {
		_, in := removed[l.Ingress]
		_, eg := removed[l.Egress]
		if in || eg {
			continue
		}
		loops = append(loops, l)
	}

	backward, err := rewriteLoops(record.Operators, loops)
	if err != nil {
		return nil, err
	}

	links := make([]model.LinkDescriptor, 0, len(desc.Links)+len(backward))
	links = append(links, desc.Links...)
	links = append(links, backward...)

	if err := materializeLinks(record, links, removed, log); err != nil {
		return nil, err
	}
	// Synthesized connectors may still collide with a node of the descriptor.
	if err := record.Validate(); err != nil {
		return nil, err
	}

	log.Debug("Compiled record", loggingpkg.LogFields{
		"operators":  len(record.Operators),
		"sources":    len(record.Sources),
		"sinks":      len(record.Sinks),
		"connectors": len(record.Connectors),
		"links":      len(record.Links),
	})
	return record, nil
}
