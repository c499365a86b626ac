package protocol

import "fmt"

// FaultCode is one of the alarm bits reported by the errors command.
type FaultCode int

const (
	CellVoltHighLevel1 FaultCode = iota
	CellVoltHighLevel2
	CellVoltLowLevel1
	CellVoltLowLevel2
	SumVoltHighLevel1
	SumVoltHighLevel2
	SumVoltLowLevel1
	SumVoltLowLevel2
	ChargeTempHighLevel1
	ChargeTempHighLevel2
	ChargeTempLowLevel1
	ChargeTempLowLevel2
	DischargeTempHighLevel1
	DischargeTempHighLevel2
	DischargeTempLowLevel1
	DischargeTempLowLevel2
	ChargeOvercurrentLevel1
	ChargeOvercurrentLevel2
	DischargeOvercurrentLevel1
	DischargeOvercurrentLevel2
	SOCHighLevel1
	SOCHighLevel2
	SOCLowLevel1
	SOCLowLevel2
	DiffVoltLevel1
	DiffVoltLevel2
	DiffTempLevel1
	DiffTempLevel2
	ChargeMosTempHighAlarm
	DischargeMosTempHighAlarm
	ChargeMosTempSensorErr
	DischargeMosTempSensorErr
	ChargeMosAdhesionErr
	DischargeMosAdhesionErr
	ChargeMosOpenCircuitErr
	DischargeMosOpenCircuitErr
	AFECollectChipErr
	VoltageCollectDropped
	CellTempSensorErr
	EEPROMErr
	RTCErr
	PrechargeFailure
	CommunicationFailure
	InternalCommunicationFailure
	CurrentModuleFault
	SumVoltageDetectFault
	ShortCircuitProtectFault
	LowVoltForbiddenChargeFault

	faultCount
)

var faultNames = [faultCount]struct{ key, text string }{
	{"cell_volt_high_level1", "Cell voltage is too high (Level 1)"},
	{"cell_volt_high_level2", "Cell voltage is too high (Level 2)"},
	{"cell_volt_low_level1", "Cell voltage is too low (Level 1)"},
	{"cell_volt_low_level2", "Cell voltage is too low (Level 2)"},
	{"sum_volt_high_level1", "Total voltage is too high (Level 1)"},
	{"sum_volt_high_level2", "Total voltage is too high (Level 2)"},
	{"sum_volt_low_level1", "Total voltage is too low (Level 1)"},
	{"sum_volt_low_level2", "Total voltage is too low (Level 2)"},
	{"charge_temp_high_level1", "Charging temperature too high (Level 1)"},
	{"charge_temp_high_level2", "Charging temperature too high (Level 2)"},
	{"charge_temp_low_level1", "Charging temperature too low (Level 1)"},
	{"charge_temp_low_level2", "Charging temperature too low (Level 2)"},
	{"discharge_temp_high_level1", "Discharging temperature too high (Level 1)"},
	{"discharge_temp_high_level2", "Discharging temperature too high (Level 2)"},
	{"discharge_temp_low_level1", "Discharging temperature too low (Level 1)"},
	{"discharge_temp_low_level2", "Discharging temperature too low (Level 2)"},
	{"charge_overcurrent_level1", "Charge overcurrent (Level 1)"},
	{"charge_overcurrent_level2", "Charge overcurrent (Level 2)"},
	{"discharge_overcurrent_level1", "Discharge overcurrent (Level 1)"},
	{"discharge_overcurrent_level2", "Discharge overcurrent (Level 2)"},
	{"soc_high_level1", "SOC too high (Level 1)"},
	{"soc_high_level2", "SOC too high (Level 2)"},
	{"soc_low_level1", "SOC too low (Level 1)"},
	{"soc_low_level2", "SOC too low (Level 2)"},
	{"diff_volt_level1", "Excessive voltage difference between cells (Level 1)"},
	{"diff_volt_level2", "Excessive voltage difference between cells (Level 2)"},
	{"diff_temp_level1", "Excessive temperature difference between sensors (Level 1)"},
	{"diff_temp_level2", "Excessive temperature difference between sensors (Level 2)"},
	{"charge_mos_temp_high_alarm", "Charging MOSFET temperature too high"},
	{"discharge_mos_temp_high_alarm", "Discharging MOSFET temperature too high"},
	{"charge_mos_temp_sensor_err", "Charging MOSFET temperature sensor failure"},
	{"discharge_mos_temp_sensor_err", "Discharging MOSFET temperature sensor failure"},
	{"charge_mos_adhesion_err", "Charging MOSFET adhesion failure"},
	{"discharge_mos_adhesion_err", "Discharging MOSFET adhesion failure"},
	{"charge_mos_open_circuit_err", "Charging MOSFET open circuit failure"},
	{"discharge_mos_open_circuit_err", "Discharging MOSFET open circuit failure"},
	{"afe_collect_chip_err", "AFE acquisition chip failure"},
	{"voltage_collect_dropped", "Cell voltage collection circuit failure"},
	{"cell_temp_sensor_err", "Cell temperature sensor failure"},
	{"eeprom_err", "EEPROM storage failure"},
	{"rtc_err", "RTC clock failure"},
	{"precharge_failure", "Pre-charge failure"},
	{"communication_failure", "Communication failure"},
	{"internal_communication_failure", "Internal communication failure"},
	{"current_module_fault", "Current detection module failure"},
	{"sum_voltage_detect_fault", "Total voltage detection module failure"},
	{"short_circuit_protect_fault", "Short circuit protection failure"},
	{"low_volt_forbidden_charge_fault", "Low voltage forbids charging"},
}

func (f FaultCode) valid() bool {
	return f >= 0 && f < faultCount
}

// position returns the payload byte and bit carrying the code.
func (f FaultCode) position() (int, uint) {
	n := int(f)
	if f >= ChargeMosTempHighAlarm {
		n += 4 // payload byte 3 only carries four alarms
	}
	return n / 8, uint(n % 8)
}

// Key is a stable snake_case identifier, used for metric labels and topics.
func (f FaultCode) Key() string {
	if !f.valid() {
		return fmt.Sprintf("fault_%d", int(f))
	}
	return faultNames[f].key
}

func (f FaultCode) String() string {
	if !f.valid() {
		return fmt.Sprintf("unknown fault code %d", int(f))
	}
	return faultNames[f].text
}

func (f FaultCode) MarshalText() ([]byte, error) {
	return []byte(f.Key()), nil
}

// FaultCodes lists every known fault code.
func FaultCodes() []FaultCode {
	codes := make([]FaultCode, faultCount)
	for i := range codes {
		codes[i] = FaultCode(i)
	}
	return codes
}

func decodeFaults(frames []Frame, _ Counts) (Result, error) {
	p := frames[0].Payload
	faults := Faults{}
	for code := FaultCode(0); code < faultCount; code++ {
		idx, bit := code.position()
		if p[idx]>>bit&1 == 1 {
			faults = append(faults, code)
		}
	}
	return faults, nil
}
