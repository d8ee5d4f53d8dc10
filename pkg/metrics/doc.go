// Package metrics defines the Collector capability through which queue
// components report operational counters.
//
// A Collector is passed explicitly to each component instead of living in
// package-level state. Tests run with the zero-cost Noop implementation;
// production wiring typically uses NewPrometheus:
//
//	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer)
//	producer, _ := jobqueue.NewProducer(store, jobqueue.WithProducerCollector(collector))
package metrics
