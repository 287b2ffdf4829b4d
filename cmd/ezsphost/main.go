package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/coldboot/ezsphost/pkg/ash"
	"github.com/coldboot/ezsphost/pkg/ezsp"
	"github.com/coldboot/ezsphost/pkg/host"
	"github.com/coldboot/ezsphost/pkg/storage"
	"github.com/coldboot/ezsphost/pkg/transport"
	"github.com/coldboot/ezsphost/pkg/zcl"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	serialPort := flag.String("port", "/dev/ttyUSB0", "path to the NCP's serial device")
	baud := flag.Int("baud", transport.DefaultBaud, "serial baud rate")
	configPath := flag.String("config", "ezsphost.json", "path to the persisted JSON document")
	coordinator := flag.Bool("coordinator", true, "form a new network as coordinator rather than joining one")
	panID := flag.Uint("pan", 0x1234, "PAN id to form, if -coordinator")
	channel := flag.Uint("channel", 15, "radio channel to form on, if -coordinator")
	txPower := flag.Int("txpower", 8, "radio tx power in dBm, if -coordinator")
	permitJoin := flag.Uint("permit-join", 60, "seconds to open the network for joining after it comes up")
	flag.Parse()

	port, err := transport.Open(*serialPort, transport.Options{Baud: *baud})
	if err != nil {
		log.Fatal().Err(err).Str("port", *serialPort).Msg("ezsphost: open serial port")
	}

	reg := prometheus.NewRegistry()
	link := ash.New(port, ash.NewMetrics(reg))
	ezspLayer := ezsp.New(link)

	store, err := storage.New(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("ezsphost: compile persistence schema")
	}

	controller := host.New(link, ezspLayer, store)
	controller.SetIncomingMessageHandler(func(sender uint16, profileID, clusterID uint16, srcEndpoint, dstEndpoint uint8, payload []byte) {
		hdr, rest, err := zcl.ParseHeader(payload)
		if err != nil {
			log.Warn().Err(err).Uint16("sender", sender).Msg("ezsphost: undecodable incoming message")
			return
		}
		log.Info().
			Uint16("sender", sender).
			Uint16("cluster", clusterID).
			Uint8("command", hdr.CommandID).
			Int("payloadLen", len(rest)).
			Msg("ezsphost: incoming message")
	})

	controller.SetConfig(host.Config{
		Version:        "1",
		Coordinator:    *coordinator,
		PanID:          uint16(*panID),
		RadioChannel:   uint8(*channel),
		RadioTxPower:   int8(*txPower),
		PermitJoinSecs: uint8(*permitJoin),
	})

	if err := controller.Start(); err != nil {
		log.Fatal().Err(err).Msg("ezsphost: bring-up failed")
	}
	log.Info().Stringer("state", controller.State()).Msg("ezsphost: network up")

	if *permitJoin > 0 {
		if err := controller.PermitJoining(uint8(*permitJoin)); err != nil {
			log.Warn().Err(err).Msg("ezsphost: permitJoining failed")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("ezsphost: shutting down")
	if err := controller.Save(); err != nil {
		log.Error().Err(err).Msg("ezsphost: save on shutdown failed")
	}
	controller.Close()
}
