package compiler

import (
	"fmt"

	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
)

// materializeLinks validates links and appends them to the record, splitting the
// ones that cross runtimes through connectors.
func materializeLinks(record *model.Record, links []model.LinkDescriptor, removed map[model.NodeID]struct{}, log loggingpkg.ServiceLogger) error {
	synth := newSynthesizer(record.Flow, record.UUID.String())

	for _, l := range links {
		if l.Touches(removed) {
			log.Debug("Dropping link of removed node", loggingpkg.LogFields{"link": l.String()})
			continue
		}

		c, err := resolve(record, l)
		if err != nil {
			log.Error("Invalid link", err, loggingpkg.LogFields{"link": l.String()})
			return err
		}

		if c.fromRuntime == c.toRuntime {
			record.Links = append(record.Links, l)
			continue
		}

		connectors, split := synth.connect(c)
		record.Connectors = append(record.Connectors, connectors...)
		record.Links = append(record.Links, split...)
		log.Debug("Split cross-runtime link", loggingpkg.LogFields{
			"link":         l.String(),
			"from_runtime": string(c.fromRuntime),
			"to_runtime":   string(c.toRuntime),
		})
	}
	return nil
}

func resolve(record *model.Record, l model.LinkDescriptor) (crossing, error) {
	fromRuntime, ok := record.FindNodeRuntime(l.From.Node)
	if !ok {
		return crossing{}, errspkg.UncompletedError{Reason: fmt.Sprintf("unable to find runtime for %s", l.From.Node)}
	}
	toRuntime, ok := record.FindNodeRuntime(l.To.Node)
	if !ok {
		return crossing{}, errspkg.UncompletedError{Reason: fmt.Sprintf("unable to find runtime for %s", l.To.Node)}
	}

	fromType, ok := record.FindNodeOutputType(l.From.Node, l.From.Output)
	if !ok {
		return crossing{}, errspkg.PortNotFoundError{Node: string(l.From.Node), Port: string(l.From.Output)}
	}
	toType, ok := record.FindNodeInputType(l.To.Node, l.To.Input)
	if !ok {
		return crossing{}, errspkg.PortNotFoundError{Node: string(l.To.Node), Port: string(l.To.Input)}
	}

	if err := CheckPortTypes(fromType, toType); err != nil {
		return crossing{}, err
	}

	return crossing{
		link:        l,
		fromType:    fromType,
		toType:      toType,
		fromRuntime: fromRuntime,
		toRuntime:   toRuntime,
	}, nil
}
