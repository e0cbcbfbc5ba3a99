// Package metrics records focusguard engine and router metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics collection
// needs no nil checks at call sites:
//
//	eng := engine.New(st, engine.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// The daemon serves the registry through HTTPHandler on its admin address.
package metrics
