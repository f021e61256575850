package pipeline

import (
	"errors"

	"github.com/plthiyagu/mlhep2018/detector"
)

// ProgressFunc is invoked once per retrieved unit with the running count.
type ProgressFunc func(done, total int)

// Collect submits one unit per theta, then retrieves len(thetas) units and
// passes each to fn. If fn or a simulation fails, Collect stops consuming
// but still retrieves every outstanding unit before returning the error.
func Collect(p *Pool, thetas []float64, fn func(Result) error, progress ProgressFunc) (err error) {
	defer func() {
		if derr := drain(p); err == nil {
			err = derr
		}
	}()

	for _, theta := range thetas {
		if err := p.Submit(theta); err != nil {
			return err
		}
	}
	for i := range thetas {
		res, err := p.Retrieve()
		if err != nil {
			return err
		}
		if progress != nil {
			progress(i+1, len(thetas))
		}
		if err := fn(res); err != nil {
			return err
		}
	}
	return nil
}

// GetData runs one unit per theta and returns all results.
func GetData(p *Pool, thetas []float64, progress ProgressFunc) ([]Result, error) {
	results := make([]Result, 0, len(thetas))
	err := Collect(p, thetas, func(res Result) error {
		results = append(results, res)
		return nil
	}, progress)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Flatten expands units into per-image offsets and images.
func Flatten(results []Result) ([]float64, []detector.Image) {
	var thetas []float64
	var images []detector.Image
	for _, res := range results {
		for _, im := range res.Images {
			thetas = append(thetas, res.Theta)
			images = append(images, im)
		}
	}
	return thetas, images
}

// drain retrieves every outstanding unit. It returns the first failure seen.
func drain(p *Pool) error {
	var first error
	for p.Pending() > 0 {
		_, err := p.Retrieve()
		if errors.Is(err, ErrClosed) || errors.Is(err, ErrNothingPending) {
			return err
		}
		if err != nil && first == nil {
			first = err
		}
	}
	return first
}
