package qsvm

/*
Regulator is an admission control consulted by the dispatcher. Each metrics
tick the dispatcher hands every regulator the current Metrics (Observe) and
gives it a chance to relax (Renormalize). Before an electron is queued, any
regulator answering true from Limit holds it back.

Implementations: Breaker, RateLimiter, BackPressure, DeviceBalancer.
*/
type Regulator interface {
	Observe(metrics *Metrics)
	Limit() bool
	Renormalize()
}
