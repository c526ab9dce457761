package av

import (
	"strings"

	"github.com/fabio-d/rawcompr"
	"github.com/golang/glog"
)

// Loss is a bitmask describing what a pixel-format conversion discards. A
// zero value means the conversion is bit-exact.
type Loss int

const (
	LossResolution Loss = 1 << iota // 0x01
	LossDepth                       // 0x02
	LossColorspace                  // 0x04
	LossAlpha                       // 0x08
	LossColorquant                  // 0x10
	LossChroma                      // 0x20
)

func (l Loss) String() string {
	if l == 0 {
		return "LOSSLESS"
	}

	var parts []string
	if l&LossResolution != 0 {
		parts = append(parts, "LOSS_RESOLUTION")
	}
	if l&LossDepth != 0 {
		parts = append(parts, "LOSS_DEPTH")
	}
	if l&LossColorspace != 0 {
		parts = append(parts, "LOSS_COLORSPACE")
	}
	if l&LossAlpha != 0 {
		parts = append(parts, "LOSS_ALPHA")
	}
	if l&LossColorquant != 0 {
		parts = append(parts, "LOSS_COLORQUANT")
	}
	if l&LossChroma != 0 {
		parts = append(parts, "LOSS_CHROMA")
	}
	return strings.Join(parts, "|")
}

// SelectCompatibleLosslessPixelFormat picks, among the encoder's accepted
// pixel formats, the first one whose conversion from src and back is
// bit-exact in the library's loss classification. It fails when no candidate
// qualifies.
func SelectCompatibleLosslessPixelFormat(lib Library, candidates []string, src string) (string, error) {
	glog.V(1).Infof("   -> Input pixel format: %s", src)

	for _, candidate := range candidates {
		losses, err := lib.PixelFormatLoss(candidate, src, false)
		if err != nil {
			return "", err
		}
		lossesInv, err := lib.PixelFormatLoss(src, candidate, true)
		if err != nil {
			return "", err
		}

		glog.V(1).Infof("   -> Candidate output pixel format: %s %s %s_INV",
			candidate, losses, lossesInv)

		if losses == 0 && lossesInv == 0 {
			return candidate, nil
		}
	}

	return "", rawcompr.ErrInvalidInput.WithMessage(
		"no compatible lossless pixel format for " + src)
}
