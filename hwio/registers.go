package hwio

// Register word indices for BAR0. The exact numbering is device firmware
// specific; only the protocol around them is this package's concern.
const (
	RegStatusBusAddressLow   uint32 = 0x00 // Descriptor/status table base, bus address bits 31:0
	RegStatusBusAddressHigh  uint32 = 0x01 // Descriptor/status table base, bus address bits 63:32
	RegStatusCardAddressLow  uint32 = 0x02 // Table base in the card's internal address space, bits 31:0
	RegStatusCardAddressHigh uint32 = 0x03 // Table base in the card's internal address space, bits 63:32
	RegDescriptorTableSize   uint32 = 0x04 // Ring entry count minus one
	RegDoneControl           uint32 = 0x05 // 1 = status entry per descriptor
	RegDataGeneratorPattern  uint32 = 0x06 // Generator pattern select
	RegDataEmulatorControl   uint32 = 0x07 // Bit 0 enable, bit 1 run
	RegAcknowledge           uint32 = 0x08 // Write N to free N card buffers
	RegIdleCounter           uint32 = 0x09 // Idle cycles since last read, read clears
	RegIdleCounterLow        uint32 = 0x0A // Cumulative idle cycles, bits 31:0
	RegIdleCounterHigh       uint32 = 0x0B // Cumulative idle cycles, bits 63:32
	RegIdleMaxValue          uint32 = 0x0C // Longest idle stretch observed
	RegTemperature           uint32 = 0x0D // 10-bit ADC reading, 0 = invalid
	RegFirmwareCompileInfo   uint32 = 0x0E // Firmware build identifier
	RegDebugReadWrite        uint32 = 0x0F // Scratch register, low byte is echoed
	RegReset                 uint32 = 0x10 // Write 1 to reset the card
	RegResetDataGenerator    uint32 = 0x11 // Write 1 to restart the generator counter
)

// Data emulator control values. Bit 0 keeps the emulator armed, bit 1 lets
// it produce; clearing bit 1 while armed pauses it in place.
const (
	EmulatorEnabled uint32 = 0x1
	EmulatorRun     uint32 = 0x3
)

// Generator pattern select codes.
const (
	GeneratorIncremental uint32 = 0x1
	GeneratorAlternating uint32 = 0x2
	GeneratorConstant    uint32 = 0x3
)

// RegisterCount is the size of the emulated register file.
const RegisterCount = 0x20
