package mqtt

import (
	"encoding/json"
	"testing"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestButtonCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := buttonCommandExtractor("antra")
	matches := r.FindAllStringSubmatch("antra/button/reset_counters/press", 1)

	assert.Equal("reset_counters", matches[0][1], "button extract")
	assert.Empty(r.FindAllStringSubmatch("antra/button/reset_counters/state", 1))
	assert.Empty(r.FindAllStringSubmatch("other/antra/button/reset_counters/press", 1))
}

func TestSelectCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := selectCommandExtractor("antra")
	matches := r.FindAllStringSubmatch("antra/select/charge_state/set", 1)

	assert.Equal("charge_state", matches[0][1], "select extract")
	assert.Empty(r.FindAllStringSubmatch("antra/select/charge_state/state", 1))
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := inputNumberCommandExtractor("antra")
	matches := r.FindAllStringSubmatch("antra/number/battery_1_capacity/set", 1)

	assert.Equal("battery_1_capacity", matches[0][1], "number_id extract")
	assert.Empty(r.FindAllStringSubmatch("antra/switch/battery_1_capacity/command", 1))
}

func TestParseCommand(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	base := "antra"
	button, sel, number := buttonCommandExtractor(base), selectCommandExtractor(base), inputNumberCommandExtractor(base)

	cmd, err := parseCommand("antra/button/reset_counters/press", "PRESS", button, sel, number)
	require.NoError(err)
	assert.Equal(COMMAND_BUTTON, cmd.Command)
	assert.Equal(domain.BUTTON_ID_RESET_COUNTERS, cmd.DeviceId)

	cmd, err = parseCommand("antra/select/charge_state/set", "charging", button, sel, number)
	require.NoError(err)
	assert.Equal(COMMAND_SELECT, cmd.Command)
	assert.Equal("charging", cmd.Payload)

	cmd, err = parseCommand("antra/number/battery_2_capacity/set", "2400.5", button, sel, number)
	require.NoError(err)
	assert.Equal(COMMAND_NUMBER, cmd.Command)
	assert.Equal("battery_2_capacity", cmd.DeviceId)

	_, err = parseCommand("antra/number/battery_2_capacity/set", "lots", button, sel, number)
	assert.Error(err)

	_, err = parseCommand("antra/sensor/pack_voltage/state", "53.1", button, sel, number)
	assert.Error(err)
}

func TestHADiscoveryMessages(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	dev := domain.BMSDevice(cfg.MQTT.BaseTopic, "Antra US2000/US3000", "2.1")

	buttons := domain.AccountingButtons(dev)
	require.NotEmpty(buttons)
	msg := GenericButtonToHADiscoveryMessage(client, buttons[0])
	assert.Equal("antra/button/reset_counters/press", msg.CommandTopic)
	assert.Equal("antra/bridge/state", msg.AvTopic)
	assert.Equal("homeassistant/button/"+dev.Id+"/reset_counters/config", client.HADiscoveryButtonTopic(buttons[0]))

	selects := domain.AccountingSelects(dev)
	require.Len(selects, 1)
	selMsg := GenericSelectToHADiscoveryMessage(client, selects[0])
	assert.Equal([]string{"idle", "charging", "discharging"}, selMsg.Options)
	assert.Equal("antra/select/charge_state/set", selMsg.CommandTopic)

	numbers := domain.AccountingInputNumbers(dev, 2, 5000)
	require.Len(numbers, 4)
	numMsg := GenericInputNumberToHADiscoveryMessage(client, numbers[0])
	assert.Equal("antra/number/battery_1_capacity/set", numMsg.CommandTopic)
	assert.Equal(5000.0, numMsg.Max)

	sensors := domain.AccountingSensors(dev, 2)
	sensorMsg := GenericSensorToHADiscoveryMessage(client, sensors[0])
	assert.Equal("antra/sensor/total_discharged_energy/state", sensorMsg.StateTopic)
	payload, err := json.Marshal(sensorMsg)
	require.NoError(err)
	assert.Contains(string(payload), `"device_class":"energy"`)

	bridge := domain.BridgeSensors(domain.BridgeDevice(cfg.MQTT.BaseTopic))
	bridgeMsg := GenericSensorToHADiscoveryMessage(client, bridge[0])
	assert.Equal(MQTT_PAYLOAD_ONLINE, bridgeMsg.PayloadOn)
	assert.Equal("antra/bridge/state", bridgeMsg.StateTopic)
}
