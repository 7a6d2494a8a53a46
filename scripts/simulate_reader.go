// Command simulate_reader emulates the dock door RFID reader against a live
// MQTT broker: it streams synthetic tag reads and answers the rfid, power and
// gpo command topics, so the edge service can be exercised without hardware.
//
//	go run scripts/simulate_reader.go --broker tcp://127.0.0.1:1883 --rate 2
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Broker   string  `long:"broker" env:"SIM_BROKER" default:"tcp://127.0.0.1:1883" description:"MQTT broker address"`
	ClientID string  `long:"client-id" env:"SIM_CLIENT_ID" default:"mqttx_1e40cea4" description:"Reader client id used in topic names"`
	Rate     float64 `long:"rate" default:"2" description:"Tag reads published per second"`
	Tags     int     `long:"tags" default:"8" description:"Simulated tag population size"`
}

// letterToPair is the tag-side encoding: letters become two-character hex
// pairs, digits ride along verbatim, the remainder of the EPC is F padding.
var letterToPair = map[byte]string{
	'A': "A0", 'B': "B0", 'C': "C0", 'D': "D0", 'E': "E0", 'F': "F0",
	'G': "A1", 'H': "B1", 'I': "C1", 'J': "D1", 'K': "E1", 'L': "F1",
	'M': "A2", 'N': "B2", 'O': "C2", 'P': "D2", 'Q': "E2", 'R': "F2",
	'S': "A3", 'T': "B3", 'U': "C3", 'V': "D3", 'W': "E3", 'X': "F3",
	'Y': "A4", 'Z': "B4",
}

const epcLength = 24

func encodeQR(qr string) string {
	var b strings.Builder
	for i := 0; i < len(qr); i++ {
		if pair, ok := letterToPair[qr[i]]; ok {
			b.WriteString(pair)
		} else {
			b.WriteByte(qr[i])
		}
	}
	epc := b.String()
	if len(epc) < epcLength {
		epc += strings.Repeat("F", epcLength-len(epc))
	}
	return epc
}

func randomQR() string {
	const letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteByte(letters[rand.Intn(len(letters))])
	}
	fmt.Fprintf(&b, "%04d", rand.Intn(10000))
	return b.String()
}

// reader is the simulated device state, mutated from paho callbacks.
type reader struct {
	mu        sync.Mutex
	streaming bool
	power     map[string]int
	started   time.Time
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	population := make([]string, opts.Tags)
	for i := range population {
		population[i] = randomQR()
	}
	fmt.Printf("📡 simulated tag population: %s\n", strings.Join(population, " "))

	r := &reader{
		power:   map[string]int{"ant1": 20, "ant2": 20, "ant3": 15, "ant4": 15},
		started: time.Now(),
	}

	topic := func(suffix string) string {
		return fmt.Sprintf("reader/%s/%s", opts.ClientID, suffix)
	}

	cliOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(fmt.Sprintf("sim-%d", time.Now().UnixNano()%100000)).
		SetAutoReconnect(true)
	cli := mqtt.NewClient(cliOpts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		fmt.Fprintf(os.Stderr, "❌ broker connect failed: %v\n", token.Error())
		os.Exit(1)
	}
	fmt.Printf("✅ connected to %s as reader %q\n", opts.Broker, opts.ClientID)

	reply := func(payload map[string]any) {
		body, _ := json.Marshal(payload)
		cli.Publish(topic("data/response"), 1, false, body)
	}

	cli.Subscribe(topic("cmd/rfid"), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			return
		}
		switch cmd.Action {
		case "start":
			r.mu.Lock()
			r.streaming = true
			r.mu.Unlock()
			fmt.Println("inventory started")
			reply(map[string]any{"command": "rfid", "action": "start", "status": "success"})
		case "stop":
			r.mu.Lock()
			r.streaming = false
			r.mu.Unlock()
			fmt.Println("inventory stopped")
			reply(map[string]any{"command": "rfid", "action": "stop", "status": "success"})
		case "status":
			r.mu.Lock()
			uptime := int(time.Since(r.started).Seconds())
			r.mu.Unlock()
			reply(map[string]any{
				"command": "rfid",
				"action":  "status",
				"status":  "success",
				"system":  map[string]any{"uptime": uptime, "free_heap": 148000},
				"network": map[string]any{"ip": "192.168.1.50", "rssi": -52},
			})
		}
	})

	cli.Subscribe(topic("cmd/power"), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd map[string]any
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			return
		}
		action, _ := cmd["action"].(string)

		r.mu.Lock()
		if action == "set" {
			for _, ant := range []string{"ant1", "ant2", "ant3", "ant4"} {
				if v, ok := cmd[ant].(float64); ok {
					r.power[ant] = int(v)
				}
			}
		}
		power := map[string]any{}
		for k, v := range r.power {
			power[k] = v
		}
		r.mu.Unlock()

		fmt.Printf("power %s: %v\n", action, power)
		reply(map[string]any{"command": "power", "action": action, "status": "success", "power": power})
	})

	cli.Subscribe(topic("cmd/gpo"), 1, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd struct {
			Duration int `json:"duration"`
		}
		_ = json.Unmarshal(msg.Payload(), &cmd)
		fmt.Printf("🚨 alarm pulse: %ds\n", cmd.Duration)
		reply(map[string]any{"command": "gpo", "action": "pulse", "status": "success"})
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	interval := time.Duration(float64(time.Second) / opts.Rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fmt.Println("waiting for a start command (or POST /v1/calibration/start)")
	for {
		select {
		case <-sig:
			cli.Disconnect(250)
			fmt.Println("reader simulator stopped")
			return
		case <-ticker.C:
			r.mu.Lock()
			streaming := r.streaming
			r.mu.Unlock()
			if !streaming {
				continue
			}

			qr := population[rand.Intn(len(population))]
			frame := map[string]any{
				"clientId": opts.ClientID,
				"tags": []map[string]any{{
					"epc":      encodeQR(qr),
					"peakRssi": -40 - rand.Float64()*30,
					"antenna":  1 + rand.Intn(4),
				}},
			}
			body, _ := json.Marshal(frame)
			cli.Publish(topic("stream/tag"), 1, false, body)
		}
	}
}
