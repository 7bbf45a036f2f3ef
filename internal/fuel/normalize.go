package fuel

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Prefixes removed from flattened column names, in this order. Removal is a
// substring replacement: "metodos_de_pago_efectivo" becomes "pago_efectivo".
var redundantPrefixes = []string{"precios_", "metodos_de_", "servicios_", "ubicacion_"}

// Flatten expands nested objects into a single level, joining keys with ".".
// Arrays and scalars are kept as they are.
//
// Example:
//
//	{"ubicacion": {"latitud": -33.4}} -> {"ubicacion.latitud": -33.4}
func Flatten(record map[string]any) map[string]any {
	out := make(map[string]any, len(record))
	flattenInto(out, "", record)
	return out
}

func flattenInto(out map[string]any, prefix string, m map[string]any) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flattenInto(out, key, nested)
			continue
		}
		out[key] = v
	}
}

// ColumnName maps a flattened upstream key to its warehouse column name.
//
//	"precios.gasolina 93"              -> "gasolina_93"
//	"metodos_de_pago.tarjetas bancarias" -> "pago_tarjetas_bancarias"
//	"id"                                -> "id_bencinera"
func ColumnName(key string) string {
	name := strings.ReplaceAll(key, ".", "_")
	name = strings.ReplaceAll(name, " ", "_")
	for _, p := range redundantPrefixes {
		name = strings.ReplaceAll(name, p, "")
	}
	if name == "id" {
		return ColStationID
	}
	return name
}

// Normalize converts raw upstream station records into warehouse rows.
//
// Rules:
//   - Records without an id are skipped (Batch.Skipped).
//   - A repeated id keeps its first occurrence (Batch.Duplicates).
//   - razon_social and direccion_calle are capitalized: first letter upper,
//     the rest lower.
//   - direccion is "<direccion_calle>, <direccion_numero>"; the number part is
//     omitted when blank.
//   - Fuel prices are rounded half-to-even to integers. Missing, blank and
//     non-numeric prices mean "not sold" and never become zero.
//
// Normalize is deterministic and does not mutate records.
func Normalize(records []map[string]any) Batch {
	var b Batch
	seen := make(map[string]bool, len(records))

	for _, rec := range records {
		cols := columns(rec)

		id := strings.TrimSpace(text(cols[ColStationID]))
		if id == "" {
			b.Skipped++
			continue
		}
		if seen[id] {
			b.Duplicates++
			continue
		}
		seen[id] = true

		b.Stations = append(b.Stations, Station{
			ID:                         id,
			RazonSocial:                capitalize(text(cols[ColRazonSocial])),
			DistribuidorNombre:         text(cols["distribuidor_nombre"]),
			DistribuidorLogoSVG:        text(cols["distribuidor_logo_svg"]),
			Tienda:                     flag(cols["tienda"]),
			Farmacia:                   flag(cols["farmacia"]),
			Mantencion:                 flag(cols["mantencion"]),
			Autoservicio:               flag(cols["autoservicio"]),
			PagoEfectivo:               flag(cols["pago_efectivo"]),
			PagoCheque:                 flag(cols["pago_cheque"]),
			PagoTarjetasBancarias:      flag(cols["pago_tarjetas_bancarias"]),
			PagoTarjetasGrandesTiendas: flag(cols["pago_tarjetas_grandes_tiendas"]),
		})

		b.Locations = append(b.Locations, Location{
			StationID: id,
			Comuna:    text(cols["nombre_comuna"]),
			Region:    text(cols["nombre_region"]),
			Latitud:   number(cols["latitud"]),
			Longitud:  number(cols["longitud"]),
			Direccion: address(capitalize(text(cols["direccion_calle"])), text(cols["direccion_numero"])),
		})

		prices := make(map[FuelType]*int64, len(FuelTypes))
		for _, ft := range FuelTypes {
			v, ok := cols[string(ft)]
			if !ok {
				v = cols[string(ft)+"_precio"]
			}
			prices[ft] = price(v)
		}
		b.Prices = append(b.Prices, PriceSet{StationID: id, Prices: prices})
	}

	return b
}

// columns flattens rec and renames its keys with ColumnName. When two keys
// collapse onto the same name the lexically smaller source key wins, so the
// result does not depend on map iteration order.
func columns(rec map[string]any) map[string]any {
	flat := Flatten(rec)
	out := make(map[string]any, len(flat))
	src := make(map[string]string, len(flat))
	for k, v := range flat {
		name := ColumnName(k)
		if prev, ok := src[name]; ok && prev < k {
			continue
		}
		src[name] = k
		out[name] = v
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	lower := cases.Lower(language.Spanish).String(s)
	r, size := utf8.DecodeRuneInString(lower)
	return cases.Upper(language.Spanish).String(string(r)) + lower[size:]
}

func address(street, number string) string {
	number = strings.TrimSpace(number)
	switch {
	case street == "":
		return number
	case number == "":
		return street
	default:
		return street + ", " + number
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func number(v any) *float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return nil
		}
		f = x
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = x
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func price(v any) *int64 {
	f := number(v)
	if f == nil {
		return nil
	}
	p := int64(math.RoundToEven(*f))
	return &p
}

func flag(v any) *bool {
	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case float64:
		b = t != 0
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil
		}
		b = f != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "si", "sí", "yes":
			b = true
		case "false", "0", "no":
			b = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &b
}
