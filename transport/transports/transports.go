// Package transports imports every built-in transport for registration.
package transports

import (
	_ "github.com/drblury/flowplan/transport/aws"
	_ "github.com/drblury/flowplan/transport/channel"
	_ "github.com/drblury/flowplan/transport/http"
	_ "github.com/drblury/flowplan/transport/io"
	_ "github.com/drblury/flowplan/transport/jetstream"
	_ "github.com/drblury/flowplan/transport/kafka"
	_ "github.com/drblury/flowplan/transport/nats"
	_ "github.com/drblury/flowplan/transport/rabbitmq"
)
