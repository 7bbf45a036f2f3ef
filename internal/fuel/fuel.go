// Package fuel holds the normalized row types built from one upstream
// snapshot of fuel stations and the normalizer that produces them.
package fuel

// FuelType is one of the six fuel columns published per station.
type FuelType string

const (
	Gasolina93     FuelType = "gasolina_93"
	Gasolina95     FuelType = "gasolina_95"
	Gasolina97     FuelType = "gasolina_97"
	PetroleoDiesel FuelType = "petroleo_diesel"
	GLPVehicular   FuelType = "glp_vehicular"
	GNC            FuelType = "gnc"
)

// FuelTypes lists every fuel type in the order fact rows are emitted.
var FuelTypes = []FuelType{Gasolina93, Gasolina95, Gasolina97, PetroleoDiesel, GLPVehicular, GNC}

// Column names shared by the normalizer and the warehouse schema.
const (
	ColStationID   = "id_bencinera"
	ColLocationID  = "id_ubicacion"
	ColDateID      = "id_fecha"
	ColDate        = "fecha"
	ColPriceID     = "id_precio_combustible"
	ColFuelType    = "tipo_combustible"
	ColPrice       = "precio"
	ColRazonSocial = "razon_social"
	ColDireccion   = "direccion"
)

// StationColumns is the column order of Station.Row.
var StationColumns = []string{
	ColStationID,
	ColRazonSocial,
	"distribuidor_nombre",
	"distribuidor_logo_svg",
	"tienda",
	"farmacia",
	"mantencion",
	"autoservicio",
	"pago_efectivo",
	"pago_cheque",
	"pago_tarjetas_bancarias",
	"pago_tarjetas_grandes_tiendas",
}

// LocationColumns is the column order of Location.Row. The surrogate
// id_ubicacion is not part of it; it is assigned by the warehouse.
var LocationColumns = []string{
	ColStationID,
	"nombre_comuna",
	"nombre_region",
	"latitud",
	"longitud",
	ColDireccion,
}

// Station is one row of the stations dimension. Flags are nil when the
// upstream record did not carry them.
type Station struct {
	ID                         string
	RazonSocial                string
	DistribuidorNombre         string
	DistribuidorLogoSVG        string
	Tienda                     *bool
	Farmacia                   *bool
	Mantencion                 *bool
	Autoservicio               *bool
	PagoEfectivo               *bool
	PagoCheque                 *bool
	PagoTarjetasBancarias      *bool
	PagoTarjetasGrandesTiendas *bool
}

// Row returns the station aligned with StationColumns.
func (s Station) Row() []any {
	return []any{
		s.ID,
		s.RazonSocial,
		s.DistribuidorNombre,
		s.DistribuidorLogoSVG,
		boolValue(s.Tienda),
		boolValue(s.Farmacia),
		boolValue(s.Mantencion),
		boolValue(s.Autoservicio),
		boolValue(s.PagoEfectivo),
		boolValue(s.PagoCheque),
		boolValue(s.PagoTarjetasBancarias),
		boolValue(s.PagoTarjetasGrandesTiendas),
	}
}

// Location is one row of the locations dimension (1:1 with Station).
type Location struct {
	StationID string
	Comuna    string
	Region    string
	Latitud   *float64
	Longitud  *float64
	Direccion string
}

// Row returns the location aligned with LocationColumns.
func (l Location) Row() []any {
	return []any{
		l.StationID,
		l.Comuna,
		l.Region,
		floatValue(l.Latitud),
		floatValue(l.Longitud),
		l.Direccion,
	}
}

// PriceSet carries the six fuel prices of one station. A nil price means the
// station does not sell that fuel.
type PriceSet struct {
	StationID string
	Prices    map[FuelType]*int64
}

// Observation is one (station, fuel type, price) triple.
type Observation struct {
	StationID string
	FuelType  FuelType
	Price     int64
}

// Observations returns the sold fuels in FuelTypes order; unsold fuels are skipped.
func (p PriceSet) Observations() []Observation {
	out := make([]Observation, 0, len(FuelTypes))
	for _, ft := range FuelTypes {
		v := p.Prices[ft]
		if v == nil {
			continue
		}
		out = append(out, Observation{StationID: p.StationID, FuelType: ft, Price: *v})
	}
	return out
}

// Batch is the normalized form of one snapshot. Stations, Locations and
// Prices are aligned by index and keep upstream order.
type Batch struct {
	Stations  []Station
	Locations []Location
	Prices    []PriceSet

	// Skipped counts records dropped for lacking an id.
	Skipped int
	// Duplicates counts records dropped because their id was already seen.
	Duplicates int
}

func boolValue(b *bool) any {
	if b == nil {
		return nil
	}
	return *b
}

func floatValue(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
