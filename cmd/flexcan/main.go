package main

// Loopback demo running the full driver stack against the emulated
// register block

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/goflexcan/pkg/config"
	"github.com/samsamfire/goflexcan/pkg/controller"
	"github.com/samsamfire/goflexcan/pkg/service"
	"github.com/samsamfire/goflexcan/pkg/sim"
)

var DEFAULT_BAUDRATE = 500000
var DEFAULT_FRAME_COUNT = 5
var DEFAULT_FILTER_ID = 0x123

func main() {
	log.SetLevel(log.DebugLevel)
	// Command line arguments
	baudrate := flag.Int("b", DEFAULT_BAUDRATE, "baudrate in bit/s")
	count := flag.Int("n", DEFAULT_FRAME_COUNT, "number of frames to send")
	profilePath := flag.String("p", "", "bus profile path (.ini), overrides the other flags")
	flag.Parse()

	busConfig := service.Config{
		Baudrate:   uint32(*baudrate),
		FilterID:   uint32(DEFAULT_FILTER_ID),
		FilterMask: 0x7FF,
		Mode:       controller.ModeLoopback,
	}
	if *profilePath != "" {
		loaded, err := config.LoadProfile(*profilePath)
		if err != nil {
			panic(err)
		}
		busConfig = loaded
	}

	model := sim.NewModel(nil)
	ctrl, err := controller.NewController(model, nil)
	if err != nil {
		panic(err)
	}
	srv, err := service.NewService(ctrl, nil)
	if err != nil {
		panic(err)
	}
	if err := srv.Configure(busConfig); err != nil {
		panic(err)
	}
	// Stands in for the vector table entries
	model.SetInterruptHandler(ctrl.ServiceInterrupt)

	err = srv.RegisterCallback(func(event service.Event, message *service.Message) {
		if message != nil {
			log.Infof("%v : id x%x data %v", event, message.ID, message.Data[:message.DLC])
			return
		}
		log.Infof("%v", event)
	})
	if err != nil {
		panic(err)
	}

	for i := 0; i < *count; i++ {
		message := service.Message{ID: busConfig.FilterID, DLC: 4}
		message.Data = [8]byte{0xAA, 0xBB, 0xCC, byte(i)}
		if err := srv.Send(message); err != nil {
			log.Errorf("send failed : %v", err)
		}
	}

	state, tx, rx := srv.Fault()
	log.Infof("fault state %v, error counters tx %v rx %v", state, tx, rx)
}
