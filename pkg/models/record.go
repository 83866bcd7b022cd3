package models

// Recording is a file pulled off a device and held locally until the
// cloud confirms the upload. The row survives until the recording has
// been deleted from the device and either uploaded or deleted locally.
type Recording struct {
	ID         int64    `json:"id"`
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	Device     DeviceID `json:"device"`
	DeviceName string   `json:"device_name"`
	GroupName  string   `json:"group_name"`
	Size       int64    `json:"size"`
	IsProd     bool     `json:"is_prod"`
	IsUploaded bool     `json:"is_uploaded"`
	UploadID   string   `json:"upload_id,omitempty"`
}

// Event is a device-side event record. Key is the device-assigned
// event id, unique per device+key pair.
type Event struct {
	Key        string   `json:"key"`
	Device     DeviceID `json:"device"`
	Type       string   `json:"type"`
	Details    string   `json:"details"`
	Timestamp  string   `json:"timestamp"`
	IsProd     bool     `json:"is_prod"`
	IsUploaded bool     `json:"is_uploaded"`
}
