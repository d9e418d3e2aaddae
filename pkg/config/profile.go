// Package config loads bus profiles from INI files. A profile captures
// everything the service layer needs to bring a bus up:
//
//	[bus]
//	baudrate = 500000
//	mode = loopback
//
//	[filter]
//	id = 0x200
//	mask = 0x700
//	extended = false
//
//	[filter2]
//	id = 0x456
//	mask = 0x7FF
//
// Numbers may be decimal or 0x hex. The [filter2] section is optional,
// as are the mode and extended keys.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	flexcan "github.com/samsamfire/goflexcan"
	"github.com/samsamfire/goflexcan/pkg/controller"
	"github.com/samsamfire/goflexcan/pkg/service"
)

var modeNames = map[string]controller.Mode{
	"normal":     controller.ModeNormal,
	"loopback":   controller.ModeLoopback,
	"listenonly": controller.ModeListenOnly,
}

// LoadProfile reads a bus profile.
// file can be either a path or an *os.File or []byte
func LoadProfile(file any) (service.Config, error) {
	profile, err := ini.Load(file)
	if err != nil {
		return service.Config{}, err
	}
	config := service.Config{}

	bus, err := profile.GetSection("bus")
	if err != nil {
		return service.Config{}, fmt.Errorf("no bus section: %w", flexcan.ErrInvalidParam)
	}
	if config.Baudrate, err = parseNumber(bus, "baudrate"); err != nil {
		return service.Config{}, err
	}
	if name := bus.Key("mode").Value(); name != "" {
		mode, ok := modeNames[strings.ToLower(name)]
		if !ok {
			return service.Config{}, fmt.Errorf("bus mode %q: %w", name, flexcan.ErrInvalidParam)
		}
		config.Mode = mode
	}

	filter, err := profile.GetSection("filter")
	if err != nil {
		return service.Config{}, fmt.Errorf("no filter section: %w", flexcan.ErrInvalidParam)
	}
	if config.FilterID, err = parseNumber(filter, "id"); err != nil {
		return service.Config{}, err
	}
	if config.FilterMask, err = parseNumber(filter, "mask"); err != nil {
		return service.Config{}, err
	}
	if filter.HasKey("extended") {
		extended, err := filter.Key("extended").Bool()
		if err != nil {
			return service.Config{}, fmt.Errorf("filter extended: %w", flexcan.ErrInvalidParam)
		}
		config.FilterExtended = extended
	}

	if filter2, err := profile.GetSection("filter2"); err == nil {
		if config.FilterID2, err = parseNumber(filter2, "id"); err != nil {
			return service.Config{}, err
		}
		if config.FilterMask2, err = parseNumber(filter2, "mask"); err != nil {
			return service.Config{}, err
		}
	}

	return config, nil
}

func parseNumber(section *ini.Section, name string) (uint32, error) {
	raw := section.Key(name).Value()
	value, err := strconv.ParseUint(raw, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("%s %s %q: %w", section.Name(), name, raw, flexcan.ErrInvalidParam)
	}
	return uint32(value), nil
}
