package main

// Connects the emulated controller to a host SocketCAN interface and
// logs everything the acceptance filters let through. Useful with vcan:
//
//	ip link add dev vcan0 type vcan && ip link set up vcan0
//	canbridge -i vcan0
//	cansend vcan0 123#AABBCCDD

import (
	"flag"

	log "github.com/sirupsen/logrus"

	"github.com/samsamfire/goflexcan/pkg/bridge"
	"github.com/samsamfire/goflexcan/pkg/config"
	"github.com/samsamfire/goflexcan/pkg/controller"
	"github.com/samsamfire/goflexcan/pkg/service"
	"github.com/samsamfire/goflexcan/pkg/sim"
)

var DEFAULT_CAN_INTERFACE = "vcan0"
var DEFAULT_BAUDRATE = 500000

func main() {
	log.SetLevel(log.DebugLevel)
	// Command line arguments
	canInterface := flag.String("i", DEFAULT_CAN_INTERFACE, "socketcan interface e.g. can0,vcan0")
	profilePath := flag.String("p", "", "bus profile path (.ini)")
	flag.Parse()

	// Mask zero accepts every standard frame
	busConfig := service.Config{
		Baudrate: uint32(DEFAULT_BAUDRATE),
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

	b, err := bridge.NewBridge(model, *canInterface)
	if err != nil {
		panic(err)
	}
	if err := b.Start(); err != nil {
		panic(err)
	}
	defer b.Close()

	select {}
}
