package metrics

// NopMetrics implements a no-op metrics collector.
type NopMetrics struct{}

var _ Collector = (*NopMetrics)(nil)

func NewNop() *NopMetrics {
	return &NopMetrics{}
}

func (n *NopMetrics) RecordAssignment(string)                 {}
func (n *NopMetrics) RecordBatchDuration(float64)             {}
func (n *NopMetrics) RecordBalanceMoves(int)                  {}
func (n *NopMetrics) RecordTransferTransition(string, string) {}
func (n *NopMetrics) RecordJobRun(string, string, float64)    {}
func (n *NopMetrics) RecordNotification(string, string)       {}
