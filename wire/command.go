package wire

import (
	"fmt"
	"slices"
)

// Command is the 16-bit command code of a request.
type Command uint16

// Daemon level commands, answered by the dispatcher itself.
const (
	CmdGetDaemonVersion Command = 0xF000
	CmdGetDeviceCount   Command = 0xF001
	CmdListDevices      Command = 0xF002
)

// Device commands, executed on the device actor.
const (
	CmdGetIntegrationTime Command = iota + 0x0001
	CmdSetIntegrationTime
	CmdGetBoxcarWidth
	CmdSetBoxcarWidth
	CmdGetScansToAverage
	CmdSetScansToAverage
	CmdGetSpectrum
	CmdGetWavelengths
	CmdGetSerialNumber
	CmdGetModelName
	CmdGetBinningFactor
	CmdSetBinningFactor
	CmdGetDefaultBinningFactor
	CmdSetDefaultBinningFactor
	CmdResetDefaultBinningFactor
	CmdGetMaxBinningFactor
	CmdGetTECEnable
	CmdSetTECEnable
	CmdGetTECSetpoint
	CmdSetTECSetpoint
	CmdGetTemperature
	CmdGetLampEnable
	CmdSetLampEnable
	CmdGetMinIntegrationTime
	CmdGetMaxIntegrationTime
	CmdGetMaxIntensity
	CmdGetElectricDarkCorrection
	CmdSetElectricDarkCorrection
	CmdGetLastStatus
	CmdGetRawSpectrum
	CmdGetPixelCount
	CmdGetDarkPixelIndices
)

// Sequence commands, handled by the acquisition sequence of a device.
const (
	CmdSaveSpectrum Command = iota + 0x0100
	CmdStartSequence
	CmdPauseSequence
	CmdResumeSequence
	CmdStopSequence
	CmdGetSequenceState
	CmdGetMaxAcquisitions
	CmdSetMaxAcquisitions
	CmdGetSaveMode
	CmdSetSaveMode
	CmdGetFilePrefix
	CmdSetFilePrefix
	CmdGetSequenceType
	CmdSetSequenceType
	CmdGetSequenceInterval
	CmdSetSequenceInterval
	CmdGetSaveDirectory
	CmdSetSaveDirectory
	CmdGetScopeMode
	CmdSetScopeMode
	CmdGetScopeInterval
	CmdSetScopeInterval
	CmdGetSequenceLastStatus
	CmdGetLastSpectrum
	CmdGetAcquisitionCount
)

const (
	deviceFamilyFirst   Command = 0x0001
	deviceFamilyLast    Command = 0x00FF
	sequenceFamilyFirst Command = 0x0100
	sequenceFamilyLast  Command = 0x01FF
	daemonFamilyFirst   Command = 0xF000
)

// IsDaemonCommand reports whether c is answered by the dispatcher without a device.
func (c Command) IsDaemonCommand() bool { return c >= daemonFamilyFirst }

// IsDeviceCommand reports whether c belongs to the device command range.
func (c Command) IsDeviceCommand() bool { return c >= deviceFamilyFirst && c <= deviceFamilyLast }

// IsSequenceCommand reports whether c belongs to the sequence command range.
func (c Command) IsSequenceCommand() bool {
	return c >= sequenceFamilyFirst && c <= sequenceFamilyLast
}

var commandNames = map[Command]string{
	CmdGetDaemonVersion: "GetDaemonVersion",
	CmdGetDeviceCount:   "GetDeviceCount",
	CmdListDevices:      "ListDevices",

	CmdGetIntegrationTime:        "GetIntegrationTime",
	CmdSetIntegrationTime:        "SetIntegrationTime",
	CmdGetBoxcarWidth:            "GetBoxcarWidth",
	CmdSetBoxcarWidth:            "SetBoxcarWidth",
	CmdGetScansToAverage:         "GetScansToAverage",
	CmdSetScansToAverage:         "SetScansToAverage",
	CmdGetSpectrum:               "GetSpectrum",
	CmdGetWavelengths:            "GetWavelengths",
	CmdGetSerialNumber:           "GetSerialNumber",
	CmdGetModelName:              "GetModelName",
	CmdGetBinningFactor:          "GetBinningFactor",
	CmdSetBinningFactor:          "SetBinningFactor",
	CmdGetDefaultBinningFactor:   "GetDefaultBinningFactor",
	CmdSetDefaultBinningFactor:   "SetDefaultBinningFactor",
	CmdResetDefaultBinningFactor: "ResetDefaultBinningFactor",
	CmdGetMaxBinningFactor:       "GetMaxBinningFactor",
	CmdGetTECEnable:              "GetTECEnable",
	CmdSetTECEnable:              "SetTECEnable",
	CmdGetTECSetpoint:            "GetTECSetpoint",
	CmdSetTECSetpoint:            "SetTECSetpoint",
	CmdGetTemperature:            "GetTemperature",
	CmdGetLampEnable:             "GetLampEnable",
	CmdSetLampEnable:             "SetLampEnable",
	CmdGetMinIntegrationTime:     "GetMinIntegrationTime",
	CmdGetMaxIntegrationTime:     "GetMaxIntegrationTime",
	CmdGetMaxIntensity:           "GetMaxIntensity",
	CmdGetElectricDarkCorrection: "GetElectricDarkCorrection",
	CmdSetElectricDarkCorrection: "SetElectricDarkCorrection",
	CmdGetLastStatus:             "GetLastStatus",
	CmdGetRawSpectrum:            "GetRawSpectrum",
	CmdGetPixelCount:             "GetPixelCount",
	CmdGetDarkPixelIndices:       "GetDarkPixelIndices",

	CmdSaveSpectrum:          "SaveSpectrum",
	CmdStartSequence:         "StartSequence",
	CmdPauseSequence:         "PauseSequence",
	CmdResumeSequence:        "ResumeSequence",
	CmdStopSequence:          "StopSequence",
	CmdGetSequenceState:      "GetSequenceState",
	CmdGetMaxAcquisitions:    "GetMaxAcquisitions",
	CmdSetMaxAcquisitions:    "SetMaxAcquisitions",
	CmdGetSaveMode:           "GetSaveMode",
	CmdSetSaveMode:           "SetSaveMode",
	CmdGetFilePrefix:         "GetFilePrefix",
	CmdSetFilePrefix:         "SetFilePrefix",
	CmdGetSequenceType:       "GetSequenceType",
	CmdSetSequenceType:       "SetSequenceType",
	CmdGetSequenceInterval:   "GetSequenceInterval",
	CmdSetSequenceInterval:   "SetSequenceInterval",
	CmdGetSaveDirectory:      "GetSaveDirectory",
	CmdSetSaveDirectory:      "SetSaveDirectory",
	CmdGetScopeMode:          "GetScopeMode",
	CmdSetScopeMode:          "SetScopeMode",
	CmdGetScopeInterval:      "GetScopeInterval",
	CmdSetScopeInterval:      "SetScopeInterval",
	CmdGetSequenceLastStatus: "GetSequenceLastStatus",
	CmdGetLastSpectrum:       "GetLastSpectrum",
	CmdGetAcquisitionCount:   "GetAcquisitionCount",
}

// String returns the command name, or its hex code if the command is unknown.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Command(0x%04X)", uint16(c))
}

// LookupCommand returns the command with the given name.
func LookupCommand(name string) (Command, bool) {
	for cmd, n := range commandNames {
		if n == name {
			return cmd, true
		}
	}

	return 0, false
}

// Commands returns every known command in ascending code order.
func Commands() []Command {
	cmds := make([]Command, 0, len(commandNames))
	for cmd := range commandNames {
		cmds = append(cmds, cmd)
	}
	slices.Sort(cmds)

	return cmds
}
