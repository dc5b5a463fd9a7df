// Package entity turns raw device datapoints into typed values: power,
// fan speed, timer, temperatures, airflow, water level and alert status.
//
// Datapoint ids come from configuration. Values are read through a
// DatapointReader so that just-commanded values win over stale polls.
package entity
