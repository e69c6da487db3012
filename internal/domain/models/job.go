package models

import "time"

const (
	StatusInProgress = "InProgress"
	StatusCompleted  = "Completed"
	StatusFailed     = "Failed"
	StatusStopped    = "Stopped"
	StatusCreating   = "Creating"
	StatusInService  = "InService"
	StatusDeleted    = "Deleted"
)

// TrainingJob describes a remote DeepAR training run.
type TrainingJob struct {
	Name            string
	Image           string
	Status          string
	Hyperparameters map[string]string
	TrainURI        string
	TestURI         string
	ModelArtifact   string
	FailureReason   string
	BillableSeconds int64
	CreatedAt       time.Time
	FinishedAt      time.Time
}

// Endpoint describes a hosted inference endpoint and the resources behind it.
type Endpoint struct {
	Name          string
	ModelName     string
	ConfigName    string
	TrainingJob   string
	InstanceType  string
	Status        string
	FailureReason string
	CreatedAt     time.Time
	DeletedAt     time.Time
}

// ForecastRecord is the registry row written for every served forecast.
type ForecastRecord struct {
	ID        string
	Endpoint  string
	Symbol    string
	Start     time.Time
	Horizon   int
	Payload   []byte
	CreatedAt time.Time
}
