package awr2544

import (
	"fmt"
	"math"
	"math/bits"
	"strconv"

	"github.com/banshee-data/mmwave/internal/mmwave/profile"
)

// Config describes the packet stream produced by one profile.
type Config struct {
	RxAntennas        int
	ADCSamples        int
	SampleRateKsps    int
	FreqSlope         float64 // MHz/us
	ChirpsPerFrame    int
	CompMethod        int // 1 = per-antenna blocks, 0 = interleaved
	CompRatio         float64
	RangeBinsPerBlock int
	ProcChain         int
	CRCType           CRCType

	RangeBins    int
	RangeStep    float64 // metres
	MaxRange     float64 // metres
	PktsPerChirp int
	PktsPerFrame int
	PktLen       int // payload bytes per packet
}

// ConfigFromProfile derives the stream layout from a profile holding
// channelCfg, profileCfg, frameCfg, compressionCfg and procChainCfg.
func ConfigFromProfile(p *profile.Profile) (Config, error) {
	if err := p.Require(profile.KindChannelCfg, profile.KindProfileCfg, profile.KindFrameCfg,
		profile.KindCompressionCfg, profile.KindProcChainCfg); err != nil {
		return Config{}, fmt.Errorf("awr2544: %w", err)
	}
	params := p.Params()
	cfg := Config{
		RxAntennas:     params.RxAntennas,
		ADCSamples:     params.ADCSamples,
		SampleRateKsps: params.SampleRateKsps,
		FreqSlope:      params.FreqSlope,
		ChirpsPerFrame: params.ChirpsPerFrame,
	}

	comp, _ := p.Find(profile.KindCompressionCfg)
	chain, _ := p.Find(profile.KindProcChainCfg)
	var err error
	if cfg.CompMethod, err = intArg(comp, 2); err != nil {
		return Config{}, err
	}
	if cfg.CompRatio, err = floatArg(comp, 3); err != nil {
		return Config{}, err
	}
	if cfg.RangeBinsPerBlock, err = intArg(comp, 4); err != nil {
		return Config{}, err
	}
	if cfg.ProcChain, err = intArg(chain, 0); err != nil {
		return Config{}, err
	}
	crc, err := intArg(chain, 4)
	if err != nil {
		return Config{}, err
	}
	if crc != 0 {
		cfg.CRCType = CRC32
	}

	if err := cfg.derive(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) derive() error {
	if c.RxAntennas <= 0 || c.ADCSamples <= 0 || c.ChirpsPerFrame <= 0 || c.RangeBinsPerBlock <= 0 || c.CompRatio <= 0 {
		return fmt.Errorf("awr2544: incomplete profile: %+v", *c)
	}

	bins2x := nextPowerOf2(c.ADCSamples)
	c.RangeBins = bins2x / 2
	if c.ProcChain != 0 {
		bins3x := 3 * nextPowerOf2(c.ADCSamples/3)
		if bins2x > bins3x {
			c.RangeBins = bins3x / 2
		}
	}
	if c.FreqSlope > 0 {
		c.RangeStep = speedOfLight * float64(c.SampleRateKsps) * 1e3 / (2 * c.FreqSlope * 1e12 * float64(c.RangeBins) * 2)
		c.MaxRange = c.RangeStep * float64(c.RangeBins)
	}

	samplesPerBlock := c.RangeBinsPerBlock
	if c.CompMethod != 1 {
		samplesPerBlock *= c.RxAntennas
	}
	inputBytes := 4 * samplesPerBlock
	outputBytes := int(math.Ceil(float64(inputBytes)*c.CompRatio/4)) * 4
	blocksPerChirp := float64(c.RangeBins*c.RxAntennas) / float64(samplesPerBlock)
	blocksPerPayload := (MaxPacketSize - HeaderSize - FooterSize) / outputBytes
	if blocksPerPayload == 0 {
		return fmt.Errorf("awr2544: compressed block of %d bytes exceeds the packet payload", outputBytes)
	}
	c.PktsPerChirp = int(math.Ceil(blocksPerChirp / float64(blocksPerPayload)))
	c.PktsPerFrame = c.PktsPerChirp * c.ChirpsPerFrame
	c.PktLen = int(float64(outputBytes) * blocksPerChirp / float64(c.PktsPerChirp))
	return nil
}

const speedOfLight = 3e8

func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}

func intArg(c profile.Command, i int) (int, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("awr2544: %s needs argument %d: %w", c.Name, i, profile.ErrMissingParameter)
	}
	v, err := strconv.Atoi(c.Args[i])
	if err != nil {
		return 0, fmt.Errorf("awr2544: %s argument %d: %w", c.Name, i, err)
	}
	return v, nil
}

func floatArg(c profile.Command, i int) (float64, error) {
	if i >= len(c.Args) {
		return 0, fmt.Errorf("awr2544: %s needs argument %d: %w", c.Name, i, profile.ErrMissingParameter)
	}
	v, err := strconv.ParseFloat(c.Args[i], 64)
	if err != nil {
		return 0, fmt.Errorf("awr2544: %s argument %d: %w", c.Name, i, err)
	}
	return v, nil
}
