package hwio

// Bar is the register access capability for BAR0 of the card. Indices are
// 32-bit word indices into the register space, not byte offsets. Register
// writes are posted; the device acts on them asynchronously, so callers
// follow a write-then-poll-for-effect protocol and never assume a write has
// landed.
type Bar interface {
	ReadRegister(index uint32) uint32
	WriteRegister(index uint32, v uint32)
}

// CardAccessor wraps a Bar with the card's register protocol.
type CardAccessor struct {
	Bar Bar
}

// SetFifoBusAddress tells the DMA engine where the descriptor/status table
// lives in the bus address space.
func (a CardAccessor) SetFifoBusAddress(bus uint64) {
	a.Bar.WriteRegister(RegStatusBusAddressLow, uint32(bus))
	a.Bar.WriteRegister(RegStatusBusAddressHigh, uint32(bus>>32))
}

// SetFifoCardAddress sets the table base in the card's internal address
// space. The card keeps its copy at offset zero.
func (a CardAccessor) SetFifoCardAddress() {
	a.Bar.WriteRegister(RegStatusCardAddressLow, 0)
	a.Bar.WriteRegister(RegStatusCardAddressHigh, 0)
}

// SetDescriptorTableSize programs the ring size. The register takes the
// entry count minus one.
func (a CardAccessor) SetDescriptorTableSize(entries int) {
	a.Bar.WriteRegister(RegDescriptorTableSize, uint32(entries-1))
}

// SetDoneControl commands the DMA engine to write a status entry for every
// descriptor, not just the final one of a transfer.
func (a CardAccessor) SetDoneControl() {
	a.Bar.WriteRegister(RegDoneControl, 0x1)
}

// SetDataGeneratorPattern selects the pattern the on-card data generator
// produces.
func (a CardAccessor) SetDataGeneratorPattern(code uint32) {
	a.Bar.WriteRegister(RegDataGeneratorPattern, code)
}

// SetDataEmulatorEnabled arms or disarms the data emulator. While armed the
// card DMA-writes into every bus address registered in the descriptor
// table.
func (a CardAccessor) SetDataEmulatorEnabled(enabled bool) {
	if enabled {
		a.Bar.WriteRegister(RegDataEmulatorControl, EmulatorRun)
	} else {
		a.Bar.WriteRegister(RegDataEmulatorControl, 0x0)
	}
}

// SendAcknowledge signals that the oldest outstanding pages have been
// consumed, freeing that many of the card's internal buffers. Batched
// firmware modes free a whole buffer group with a single write.
func (a CardAccessor) SendAcknowledge(pages uint32) {
	a.Bar.WriteRegister(RegAcknowledge, pages)
}

// IdleCounter reads and clears the cycles the DMA engine spent waiting on
// software since the last read.
func (a CardAccessor) IdleCounter() uint64 {
	return uint64(a.Bar.ReadRegister(RegIdleCounter))
}

func (a CardAccessor) IdleCounterLower() uint32 {
	return a.Bar.ReadRegister(RegIdleCounterLow)
}

func (a CardAccessor) IdleCounterUpper() uint32 {
	return a.Bar.ReadRegister(RegIdleCounterHigh)
}

func (a CardAccessor) IdleMaxValue() uint32 {
	return a.Bar.ReadRegister(RegIdleMaxValue)
}

func (a CardAccessor) FirmwareCompileInfo() uint32 {
	return a.Bar.ReadRegister(RegFirmwareCompileInfo)
}

// ResetCard pulses the card reset register.
func (a CardAccessor) ResetCard() {
	a.Bar.WriteRegister(RegReset, 0x1)
}

// ResetDataGeneratorCounter restarts the generator's pattern counter.
func (a CardAccessor) ResetDataGeneratorCounter() {
	a.Bar.WriteRegister(RegResetDataGenerator, 0x1)
}

// Temperature converts the sensor register to degrees Celsius. The sensor
// is a 10-bit ADC; a raw value of zero means the reading is invalid.
func (a CardAccessor) Temperature() (float64, bool) {
	raw := a.Bar.ReadRegister(RegTemperature) & 0x3FF
	if raw == 0 {
		return 0, false
	}
	return float64(raw)*503.975/1024.0 - 273.975, true
}
