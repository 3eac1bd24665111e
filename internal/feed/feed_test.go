package feed

import (
	"sync"

	"github.com/xtxerr/ebismon/internal/catalog"
)

type scan struct {
	parameter string
	values    []float64
}

// recorder is a Sink that remembers every scan. It classifies the
// parameter through the default catalog so unknown devices fail as they
// would in the ingestion service.
type recorder struct {
	mu    sync.Mutex
	scans []scan
	cat   *catalog.Catalog
}

func newRecorder() *recorder {
	return &recorder{cat: catalog.MustDefault()}
}

func (r *recorder) OnBatch(parameter string, values []float64) error {
	d, err := r.cat.Device(parameter)
	if err != nil {
		return err
	}
	if _, err := d.Map(values, base); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.scans = append(r.scans, scan{parameter: parameter, values: append([]float64(nil), values...)})
	return nil
}

func (r *recorder) all() []scan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]scan(nil), r.scans...)
}
