package models

// InstrumentMeta: параметры инструмента от брокера. Ядро их только читает.
type InstrumentMeta struct {
	Symbol       string
	Digits       int
	Point        float64 // минимальный шаг цены
	TickSize     float64
	TickValue    float64 // стоимость одного тика на 1 лот
	ContractSize float64

	MinVolume  float64
	MaxVolume  float64
	VolumeStep float64

	// MinStopPoints: минимальная дистанция SL/TP от цены в пунктах.
	MinStopPoints float64
}
