package flowplan

import (
	"github.com/google/uuid"

	"github.com/drblury/flowplan/internal/compiler"
	errspkg "github.com/drblury/flowplan/internal/errors"
	"github.com/drblury/flowplan/internal/model"
	runtimepkg "github.com/drblury/flowplan/internal/runtime"
	configpkg "github.com/drblury/flowplan/internal/runtime/config"
	"github.com/drblury/flowplan/internal/runtime/hlc"
	idspkg "github.com/drblury/flowplan/internal/runtime/ids"
	jsoncodec "github.com/drblury/flowplan/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	messagepkg "github.com/drblury/flowplan/internal/runtime/message"
	"github.com/drblury/flowplan/internal/store"
	"github.com/drblury/flowplan/transport"
	_ "github.com/drblury/flowplan/transport/transports"
)

type (
	Descriptor         = model.Descriptor
	SourceDescriptor   = model.SourceDescriptor
	OperatorDescriptor = model.OperatorDescriptor
	SinkDescriptor     = model.SinkDescriptor
	LinkDescriptor     = model.LinkDescriptor
	OutputDescriptor   = model.OutputDescriptor
	InputDescriptor    = model.InputDescriptor
	PortDescriptor     = model.PortDescriptor
	DurationDescriptor = model.DurationDescriptor
	Record             = model.Record
	Configuration      = model.Configuration
	NodeID             = model.NodeID
	PortID             = model.PortID
	RuntimeID          = model.RuntimeID
	InputPolicy        = model.InputPolicy
	CompileOption      = compiler.Option

	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	ServiceStatus       = runtimepkg.ServiceStatus
	Instance            = runtimepkg.Instance
	Metrics             = runtimepkg.Metrics

	// Nodes
	Loader          = runtimepkg.Loader
	Registry        = runtimepkg.Registry
	Artifact        = runtimepkg.Artifact
	Source          = runtimepkg.Source
	Operator        = runtimepkg.Operator
	Sink            = runtimepkg.Sink
	State           = runtimepkg.State
	NodeContext     = runtimepkg.NodeContext
	Stateless       = runtimepkg.Stateless
	SourceFunc      = runtimepkg.SourceFunc
	OperatorFunc    = runtimepkg.OperatorFunc
	SinkFunc        = runtimepkg.SinkFunc
	SourceFactory   = runtimepkg.SourceFactory
	OperatorFactory = runtimepkg.OperatorFactory
	SinkFactory     = runtimepkg.SinkFactory

	// Runner lifecycle hooks
	RunnerInfo  = runtimepkg.RunnerInfo
	RunnerHooks = runtimepkg.RunnerHooks

	// Messages
	Data           = messagepkg.Data
	DataMessage    = messagepkg.DataMessage
	E2EDeadline    = messagepkg.E2EDeadline
	DeadlineMiss   = messagepkg.E2EDeadlineMiss
	Timestamp      = hlc.Timestamp
	Clock          = hlc.Clock
	LogFields      = loggingpkg.LogFields
	ServiceLogger  = loggingpkg.ServiceLogger
	RecordStore    = store.Store
	PostgresConfig = store.PostgresConfig

	// Transports
	Transport             = transport.Transport
	TransportBuilder      = transport.Builder
	TransportConfig       = transport.Config
	TransportRegistry     = transport.Registry
	TransportCapabilities = transport.Capabilities
)

const (
	InputPolicyAll = model.InputPolicyAll
	InputPolicyAny = model.InputPolicyAny

	BuiltinCounter     = runtimepkg.BuiltinCounter
	BuiltinPassthrough = runtimepkg.BuiltinPassthrough
	BuiltinPrinter     = runtimepkg.BuiltinPrinter

	StoreMemory   = store.DriverMemory
	StoreSQLite   = store.DriverSQLite
	StorePostgres = store.DriverPostgres
)

var (
	DescriptorFromYAML = model.DescriptorFromYAML
	DescriptorFromJSON = model.DescriptorFromJSON
	RecordFromYAML     = model.RecordFromYAML
	RecordFromJSON     = model.RecordFromJSON
	WithCompileLogger  = compiler.WithLogger

	NewService     = runtimepkg.NewService
	NewInstance    = runtimepkg.NewInstance
	ValidateConfig = configpkg.ValidateConfig
	NewMetrics     = runtimepkg.NewMetrics
	CheckDeadline  = runtimepkg.CheckDeadline

	DefaultRegistry  = runtimepkg.DefaultRegistry
	NewRegistry      = runtimepkg.NewRegistry
	RegisterBuiltins = runtimepkg.RegisterBuiltins
	BuiltinURI       = runtimepkg.BuiltinURI

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	FromValue = messagepkg.FromValue
	FromBytes = messagepkg.FromBytes

	OpenStore        = store.Open
	NewMemoryStore   = store.NewMemoryStore
	NewSQLiteStore   = store.NewSQLiteStore
	NewPostgresStore = store.NewPostgresStore

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register
	BuildTransport           = transport.Build
	GetCapabilities          = transport.GetCapabilities

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode

	NewSlogServiceLogger = loggingpkg.NewSlogServiceLogger
	NewNopLogger         = loggingpkg.NewNopLogger
	NewWatermillAdapter  = loggingpkg.NewWatermillAdapter

	NewInstanceID   = idspkg.NewInstanceID
	ParseInstanceID = idspkg.ParseInstanceID
	CreateULID      = idspkg.CreateULID

	ErrMissingConfiguration = errspkg.ErrMissingConfiguration
	ErrPortNotFound         = errspkg.ErrPortNotFound
	ErrPortTypeMismatch     = errspkg.ErrPortTypeMismatch
	ErrLoopNodeNotFound     = errspkg.ErrLoopNodeNotFound
	ErrDuplicateNode        = errspkg.ErrDuplicateNode
	ErrParsing              = errspkg.ErrParsing
	ErrEndOfStream          = errspkg.ErrEndOfStream
	ErrFatal                = errspkg.ErrFatal
	ErrNodeNotFound         = errspkg.ErrNodeNotFound
	ErrRecordNotFound       = errspkg.ErrRecordNotFound
	ErrConfigRequired       = errspkg.ErrConfigRequired
)

// Compile builds the record of desc for a new instance.
func Compile(desc *Descriptor, opts ...CompileOption) (*Record, error) {
	return compiler.Compile(desc, idspkg.NewInstanceID(), opts...)
}

// CompileInstance builds the record of desc for the given instance.
func CompileInstance(desc *Descriptor, instance uuid.UUID, opts ...CompileOption) (*Record, error) {
	return compiler.Compile(desc, instance, opts...)
}
