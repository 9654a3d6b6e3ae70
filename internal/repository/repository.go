// Package repository persists harvest bookkeeping: datasources and the paths
// selected under them, providers and the data they expose, sensor identities
// and their service links, and the harvest run log.
package repository

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sensor-harvest/internal/om"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = eris.New("repository: not found")

// PathStatus is the integration state of a selected path.
type PathStatus string

const (
	PathNew        PathStatus = "NEW"
	PathIntegrated PathStatus = "INTEGRATED"
	PathCompleted  PathStatus = "COMPLETED"
	PathRemoved    PathStatus = "REMOVED"
	PathError      PathStatus = "ERROR"
	PathNoData     PathStatus = "NO_DATA"
)

// Done reports whether the path was already integrated by an earlier run.
func (s PathStatus) Done() bool {
	return s == PathIntegrated || s == PathCompleted
}

// Datasource is a registered file or folder location.
type Datasource struct {
	ID             int64     `json:"id"`
	URL            string    `json:"url"`
	StoreKind      string    `json:"store_kind"`
	Username       string    `json:"username,omitempty"`
	Password       string    `json:"-"`
	ReadFromRemote bool      `json:"read_from_remote"`
	CreatedAt      time.Time `json:"created_at"`
}

// SelectedPath is a file enumerated under a datasource.
type SelectedPath struct {
	DatasourceID int64      `json:"datasource_id"`
	Path         string     `json:"path"`
	Status       PathStatus `json:"status"`
	ProviderID   string     `json:"provider_id,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Provider is the stored configuration a provider is opened from.
type Provider struct {
	ID           string            `json:"id"`
	DatasourceID int64             `json:"datasource_id"`
	Kind         string            `json:"kind"`
	Path         string            `json:"path"`
	Params       map[string]string `json:"params"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Data is one resource of a provider accepted into a dataset.
type Data struct {
	ID         int64     `json:"id"`
	ProviderID string    `json:"provider_id"`
	DatasetID  int64     `json:"dataset_id"`
	Resource   string    `json:"resource"`
	CreatedAt  time.Time `json:"created_at"`
}

// Sensor is the persisted identity generated from a procedure tree.
type Sensor struct {
	ID             string                  `json:"id"`
	ParentID       string                  `json:"parent_id,omitempty"`
	Type           string                  `json:"type"`
	MeasuredFields []string                `json:"measured_fields"`
	Bound          *om.SpatioTemporalBound `json:"bound,omitempty"`
	CreatedAt      time.Time               `json:"created_at"`
}

// RunStatus is the state of a harvest run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunFailed   RunStatus = "failed"
)

// HarvestRun is one entry of the harvest run log.
type HarvestRun struct {
	ID              int64      `json:"id"`
	DatasourceID    int64      `json:"datasource_id"`
	Status          RunStatus  `json:"status"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DataAccepted    int        `json:"data_accepted"`
	SensorsImported int        `json:"sensors_imported"`
	Error           string     `json:"error,omitempty"`
}

// RunResult is recorded when a run completes.
type RunResult struct {
	DataAccepted    int
	SensorsImported int
}

// DistributionFailure records a sensor that could not be imported into a service.
type DistributionFailure struct {
	RunID     int64     `json:"run_id"`
	SensorID  string    `json:"sensor_id"`
	ServiceID string    `json:"service_id"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failed_at"`
}

// Store is the harvest bookkeeping repository.
type Store interface {
	Migrate(ctx context.Context) error
	Close() error

	CreateDatasource(ctx context.Context, ds *Datasource) error
	DatasourceByURL(ctx context.Context, url string) (*Datasource, error)
	Datasource(ctx context.Context, id int64) (*Datasource, error)
	ListDatasources(ctx context.Context) ([]Datasource, error)
	DeleteDatasource(ctx context.Context, id int64) error

	AddPath(ctx context.Context, datasourceID int64, path string) (bool, error)
	Paths(ctx context.Context, datasourceID int64) ([]SelectedPath, error)
	SetPathStatus(ctx context.Context, datasourceID int64, path string, status PathStatus, providerID string) error
	ClearPaths(ctx context.Context, datasourceID int64) error

	CreateProvider(ctx context.Context, p *Provider) error
	Provider(ctx context.Context, id string) (*Provider, error)
	ProvidersByDatasource(ctx context.Context, datasourceID int64) ([]Provider, error)
	DeleteProvider(ctx context.Context, id string) error

	Dataset(ctx context.Context, identifier string) (int64, error)
	CreateData(ctx context.Context, d *Data) error
	Data(ctx context.Context, id int64) (*Data, error)
	DataByProvider(ctx context.Context, providerID string) ([]Data, error)

	CreateSensor(ctx context.Context, s *Sensor) (bool, error)
	Sensor(ctx context.Context, id string) (*Sensor, error)
	SensorChildren(ctx context.Context, id string) ([]Sensor, error)
	SensorsByData(ctx context.Context, dataID int64) ([]Sensor, error)
	LinkSensorData(ctx context.Context, sensorID string, dataID int64) error
	DeleteSensor(ctx context.Context, id string) error

	LinkSensorService(ctx context.Context, serviceID, sensorID string) error
	IsSensorLinked(ctx context.Context, serviceID, sensorID string) (bool, error)
	SensorServices(ctx context.Context, sensorID string) ([]string, error)
	UnlinkSensorService(ctx context.Context, serviceID, sensorID string) error

	StartRun(ctx context.Context, datasourceID int64) (int64, error)
	CompleteRun(ctx context.Context, runID int64, result RunResult) error
	FailRun(ctx context.Context, runID int64, errMsg string) error
	Runs(ctx context.Context, limit int) ([]HarvestRun, error)

	RecordFailure(ctx context.Context, f DistributionFailure) error
	Failures(ctx context.Context, runID int64) ([]DistributionFailure, error)
}
