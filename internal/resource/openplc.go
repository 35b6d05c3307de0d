package resource

import "github.com/danmuck/plcctl/internal/scrape"

// Kind identifiers for the OpenPLC v3 web console.
const (
	KindProgram  = "program"
	KindUser     = "user"
	KindDevice   = "device"
	KindHardware = "hardware"
)

// DefaultMirrorRoot is where the console keeps uploaded structured-text files.
const DefaultMirrorRoot = "/src/webserver/st_files/"

// deviceRenames turns the edit page's abbreviated script fields into the
// form field names, e.g. "distart" -> "di_start", "devid" -> "device_id".
var deviceRenames = []scrape.RenameRule{
	{Old: "dev", New: "device_"},
	{Old: "start", New: "_start"},
	{Old: "size", New: "_size"},
}

// ProgramKind is an uploaded structured-text program.
func ProgramKind() Kind {
	return Kind{
		ID:          KindProgram,
		Description: "structured-text program, compiled on upload",
		ListPath:    "programs?list_all=1",
		KeyColumn:   0,
		DeletePath:  "remove-program?id=",
		ValidStates: []State{StatePresent, StateAbsent},
		Required:    []string{FieldName, FieldFile, FieldState},
		Artifact: &ArtifactLayout{
			UploadPath:         "upload-program",
			UploadField:        "file",
			ContentType:        "text",
			RegisterPath:       "upload-program-action",
			ReloadPath:         "reload-program?table_id=",
			UpdateRegisterPath: "update-program-action",
			CompilePath:        "compile-program?file=",
			LogPath:            "compilation-logs",
			StartPath:          "start_plc",
			FileColumn:         1,
			CompileOnCreate:    false,
			TokenPattern:       scrape.DefaultTokenPattern,
		},
	}
}

// UserKind is a console login account.
func UserKind() Kind {
	return Kind{
		ID:             KindUser,
		Description:    "console user account",
		ListPath:       "users",
		KeyColumn:      1,
		DetailPath:     "user-info?table_id=",
		CreatePath:     "add-user",
		UpdatePath:     "update-user",
		DeletePath:     "delete-user?user_id=",
		NameProperty:   "user_name",
		ValidStates:    []State{StatePresent, StateAbsent},
		Required:       []string{FieldName, FieldState},
		CreateRequired: []string{"full_name", "user_email", "user_password"},
		UploadProperty: "file",
		Detail: scrape.DetailRules{
			AlwaysPresent: []string{"file"},
		},
	}
}

// DeviceKind is a Modbus slave device.
func DeviceKind() Kind {
	return Kind{
		ID:             KindDevice,
		Description:    "modbus slave device",
		ListPath:       "modbus",
		KeyColumn:      0,
		DetailPath:     "modbus-edit-device?table_id=",
		CreatePath:     "add-modbus-device",
		UpdatePath:     "modbus-edit-device",
		DeletePath:     "delete-device?dev_id=",
		NameProperty:   "device_name",
		ValidStates:    []State{StatePresent, StateAbsent},
		Required:       []string{FieldName, FieldState},
		CreateRequired: []string{"device_protocol"},
		Detail: scrape.DetailRules{
			ScriptAnchor:     "devid.value",
			Renames:          deviceRenames,
			SelectedProperty: "device_protocol",
		},
	}
}

// HardwareKind is the single hardware layer profile.
func HardwareKind() Kind {
	return Kind{
		ID:             KindHardware,
		Description:    "hardware layer profile",
		DetailPath:     "hardware",
		UpdatePath:     "hardware",
		ValidStates:    []State{StatePresent},
		Required:       []string{FieldState, FieldProperties},
		FileProperties: []string{"custom_layer_code"},
		Singleton:      true,
		Detail: scrape.DetailRules{
			SelectedProperty: "hardware_layer",
		},
	}
}

// OpenPLC returns a registry holding every console kind.
func OpenPLC() *Registry {
	r := NewRegistry()
	for _, k := range []Kind{ProgramKind(), UserKind(), DeviceKind(), HardwareKind()} {
		if err := r.Register(k); err != nil {
			panic(err)
		}
	}
	return r
}
