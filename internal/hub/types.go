package hub

import (
	"encoding/json"
	"fmt"
	"time"
)

type Platform string

const (
	PlatformSmartThings Platform = "SmartThings-2.0"
	PlatformHubitat     Platform = "Hubitat"
)

// LocalHubPort is the port SmartThings hubs accept LAN events on.
const LocalHubPort = 39500

const (
	defaultCloudHost = "graph.api.smartthings.com"
	defaultCloudPath = "/api/smartapps/installations/"
)

type Device struct {
	ID               string         `json:"deviceid"`
	Name             string         `json:"name"`
	BaseName         string         `json:"basename,omitempty"`
	Status           string         `json:"status,omitempty"`
	ManufacturerName string         `json:"manufacturerName,omitempty"`
	ModelName        string         `json:"modelName,omitempty"`
	LastTime         string         `json:"lastTime,omitempty"`
	Capabilities     map[string]any `json:"capabilities,omitempty"`
	Commands         map[string]any `json:"commands,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`
}

// HasCommand reports whether the hub advertised command for the device.
func (d Device) HasCommand(command string) bool {
	_, ok := d.Commands[command]
	return ok
}

func (d Device) HasCapability(capability string) bool {
	_, ok := d.Capabilities[capability]
	return ok
}

type Location struct {
	Name             string `json:"name"`
	TemperatureScale string `json:"temperature_scale,omitempty"`
	ZipCode          string `json:"zip_code,omitempty"`
	Mode             string `json:"mode,omitempty"`
}

type DeviceList struct {
	Location Location `json:"location"`
	Devices  []Device `json:"deviceList"`
}

// AttributeUpdate is one attribute change reported by the hub, either from
// getUpdates or pushed to the direct-callback receiver.
type AttributeUpdate struct {
	DeviceID  string `json:"device"`
	Attribute string `json:"attribute"`
	Value     any    `json:"value"`
	Date      string `json:"date,omitempty"`
}

// Time parses Date. Hubs report either RFC 3339 or the SmartThings
// "2006-01-02T15:04:05.000+0000" layout; zero is returned when neither fits.
func (u AttributeUpdate) Time() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700"} {
		if t, err := time.Parse(layout, u.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}

type SubscriptionService struct {
	SubscribeKey string `json:"pubnub_subscribekey"`
	Channel      string `json:"pubnub_channel"`
	Origin       string `json:"pubnub_origin,omitempty"`
}

func DecodeDeviceList(v Value) (DeviceList, error) {
	var list DeviceList
	if err := v.Decode(&list); err != nil {
		return DeviceList{}, fmt.Errorf("decode device list: %w", err)
	}
	return list, nil
}

func DecodeDevice(v Value) (Device, error) {
	var d Device
	if err := v.Decode(&d); err != nil {
		return Device{}, fmt.Errorf("decode device: %w", err)
	}
	return d, nil
}

// DecodeUpdates accepts the bare array form and the {"attributes": [...]}
// wrapper some SmartApp versions return.
func DecodeUpdates(v Value) ([]AttributeUpdate, error) {
	if v.IsZero() {
		return nil, nil
	}
	var updates []AttributeUpdate
	if err := json.Unmarshal(v.Raw, &updates); err == nil {
		return updates, nil
	}
	var wrapped struct {
		Attributes []AttributeUpdate `json:"attributes"`
	}
	if err := json.Unmarshal(v.Raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	return wrapped.Attributes, nil
}

func DecodeSubscription(v Value) (SubscriptionService, error) {
	var s SubscriptionService
	if err := v.Decode(&s); err != nil {
		return SubscriptionService{}, fmt.Errorf("decode subscription service: %w", err)
	}
	return s, nil
}
