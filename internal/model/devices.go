package model

// DeviceID is a small dense identifier interned from a 64-bit st_dev.
type DeviceID uint32

// HardlinkKey identifies one hard-linked inode as seen from one directory.
// Every directory on the inode's device that has the link somewhere below
// it gets its own occurrence count.
type HardlinkKey struct {
	Ino uint64
	Dir *Entry
}

// Device is one filesystem seen during a scan. Devices are only ever
// added; a device id stays valid for the lifetime of the table.
type Device struct {
	Dev       uint64
	Hardlinks map[HardlinkKey]uint32
}

// DeviceTable interns st_dev values and owns the per-device hard-link
// occurrence maps.
type DeviceTable struct {
	ids  map[uint64]DeviceID
	devs []*Device
}

// NewDeviceTable returns an empty table.
func NewDeviceTable() *DeviceTable {
	return &DeviceTable{ids: make(map[uint64]DeviceID)}
}

// ID returns the dense id for dev, interning it on first sight.
func (t *DeviceTable) ID(dev uint64) DeviceID {
	if id, ok := t.ids[dev]; ok {
		return id
	}
	id := DeviceID(len(t.devs))
	t.ids[dev] = id
	t.devs = append(t.devs, &Device{Dev: dev, Hardlinks: make(map[HardlinkKey]uint32)})
	return id
}

// Get returns the device for a previously interned id.
func (t *DeviceTable) Get(id DeviceID) *Device { return t.devs[id] }
