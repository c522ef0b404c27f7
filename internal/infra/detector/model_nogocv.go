//go:build !gocv

package detector

import (
	"fmt"

	"github.com/martinatfullscale/fullscale-app-sub001/internal/domain/entity"
)

// LoadModel is unavailable unless the binary is built with the gocv tag.
func LoadModel(modelPath, configPath, labelsPath string) (Model, error) {
	return nil, fmt.Errorf("%w: built without gocv support (model %s)", entity.ErrModelUnavailable, modelPath)
}
