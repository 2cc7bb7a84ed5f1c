package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("dispatch", nil)

	c.RecordReceived()
	c.RecordReceived()
	c.RecordProcessed(10 * time.Millisecond)
	c.RecordSent()
	c.RecordError()
	c.IncrementCustom("alerts_created")
	c.AddCustom("alerts_created", 4)

	snap := c.GetSnapshot()
	if snap.ServiceName != "dispatch" {
		t.Errorf("service name = %q", snap.ServiceName)
	}
	if snap.SignalsReceived != 2 {
		t.Errorf("signals received = %d, want 2", snap.SignalsReceived)
	}
	if snap.ItemsProcessed != 1 {
		t.Errorf("items processed = %d, want 1", snap.ItemsProcessed)
	}
	if snap.SendsSucceeded != 1 {
		t.Errorf("sends succeeded = %d, want 1", snap.SendsSucceeded)
	}
	if snap.ProcessingErrors != 1 {
		t.Errorf("processing errors = %d, want 1", snap.ProcessingErrors)
	}
	if snap.CustomCounters["alerts_created"] != 5 {
		t.Errorf("alerts_created = %d, want 5", snap.CustomCounters["alerts_created"])
	}
	if snap.AvgProcessingLatencyNs != float64(10*time.Millisecond) {
		t.Errorf("avg latency = %f ns", snap.AvgProcessingLatencyNs)
	}
	if snap.Status != "healthy" {
		t.Errorf("status = %q", snap.Status)
	}
}

func TestCollector_ConcurrentCustomCounters(t *testing.T) {
	c := NewCollector("dispatch", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.IncrementCustom("deliveries_sent")
			}
		}()
	}
	wg.Wait()

	if got := c.GetSnapshot().CustomCounters["deliveries_sent"]; got != 1000 {
		t.Errorf("deliveries_sent = %d, want 1000", got)
	}
}
