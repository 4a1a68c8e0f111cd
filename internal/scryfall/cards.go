package scryfall

// Card is the subset of the upstream card object this service consumes.
// Prices are passed through as returned: values may be null for finishes a
// printing was never sold in.
type Card struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	SetName         string             `json:"set_name"`
	Set             string             `json:"set"`
	TypeLine        string             `json:"type_line"`
	ManaCost        string             `json:"mana_cost"`
	CMC             float64            `json:"cmc"`
	ImageURIs       map[string]string  `json:"image_uris,omitempty"`
	CardFaces       []CardFace         `json:"card_faces,omitempty"`
	ReleasedAt      string             `json:"released_at"`
	CollectorNumber string             `json:"collector_number"`
	Rarity          string             `json:"rarity"`
	Finishes        []string           `json:"finishes"`
	Lang            string             `json:"lang"`
	Promo           bool               `json:"promo"`
	Digital         bool               `json:"digital"`
	Foil            bool               `json:"foil"`
	Nonfoil         bool               `json:"nonfoil"`
	Prices          map[string]*string `json:"prices"`
	PurchaseURIs    map[string]string  `json:"purchase_uris,omitempty"`
	Artist          string             `json:"artist"`
	Frame           string             `json:"frame"`
	BorderColor     string             `json:"border_color"`
	FullArt         bool               `json:"full_art"`
	Textless        bool               `json:"textless"`
	Reprint         bool               `json:"reprint"`
	Variation       bool               `json:"variation"`
	Legalities      map[string]string  `json:"legalities,omitempty"`
	PrintedLangs    []string           `json:"printed_languages,omitempty"`
}

// CardFace is one face of a double-faced card. Only faces carry image URIs
// for these layouts.
type CardFace struct {
	Name      string            `json:"name"`
	ImageURIs map[string]string `json:"image_uris,omitempty"`
}

// SearchResult is the upstream search envelope.
type SearchResult struct {
	Data       []Card `json:"data"`
	TotalCards int    `json:"total_cards"`
	HasMore    bool   `json:"has_more"`
}

// Catalog is the upstream autocomplete envelope: a bare list of card names.
type Catalog struct {
	Data []string `json:"data"`
}

// SetInfo identifies one set a card has been printed in.
type SetInfo struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	ReleasedAt string `json:"released_at"`
}

// CardVersion is the reshaped per-printing record returned to the frontend
// from a search.
type CardVersion struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	SetName         string             `json:"set_name"`
	SetCode         string             `json:"set_code"`
	TypeLine        string             `json:"type_line"`
	ManaCost        string             `json:"mana_cost"`
	CMC             float64            `json:"cmc"`
	ImageURL        string             `json:"image_url"`
	ReleasedAt      string             `json:"released_at"`
	CollectorNumber string             `json:"collector_number"`
	Rarity          string             `json:"rarity"`
	Finishes        []string           `json:"finishes"`
	Lang            string             `json:"lang"`
	Promo           bool               `json:"promo"`
	Digital         bool               `json:"digital"`
	Foil            bool               `json:"foil"`
	Nonfoil         bool               `json:"nonfoil"`
	Prices          map[string]*string `json:"prices"`
	PurchaseURIs    map[string]string  `json:"purchase_uris"`
	Artist          string             `json:"artist"`
	Frame           string             `json:"frame"`
	BorderColor     string             `json:"border_color"`
	FullArt         bool               `json:"full_art"`
	Textless        bool               `json:"textless"`
	Reprint         bool               `json:"reprint"`
	Variation       bool               `json:"variation"`
}

// CardDetail is the reshaped single-card record returned to the frontend.
type CardDetail struct {
	ID         string             `json:"id"`
	Name       string             `json:"name"`
	SetName    string             `json:"set_name"`
	SetCode    string             `json:"set_code"`
	TypeLine   string             `json:"type_line"`
	ManaCost   string             `json:"mana_cost"`
	CMC        float64            `json:"cmc"`
	ImageURL   string             `json:"image_url"`
	Prices     map[string]*string `json:"prices"`
	ReleasedAt string             `json:"released_at"`
	Legalities map[string]string  `json:"legalities"`
	Languages  []string           `json:"languages"`
	Finishes   []string           `json:"finishes"`
}

// ImageURL returns the normal-size card image, falling back to the first
// card face for double-faced layouts that carry no top-level image.
func (c Card) ImageURL() string {
	if url, ok := c.ImageURIs["normal"]; ok {
		return url
	}
	if len(c.CardFaces) > 0 {
		return c.CardFaces[0].ImageURIs["normal"]
	}
	return ""
}

// Version reshapes a card into the per-printing search record.
func (c Card) Version() CardVersion {
	lang := c.Lang
	if lang == "" {
		lang = "en"
	}

	return CardVersion{
		ID:              c.ID,
		Name:            c.Name,
		SetName:         c.SetName,
		SetCode:         c.Set,
		TypeLine:        c.TypeLine,
		ManaCost:        c.ManaCost,
		CMC:             c.CMC,
		ImageURL:        c.ImageURL(),
		ReleasedAt:      c.ReleasedAt,
		CollectorNumber: c.CollectorNumber,
		Rarity:          c.Rarity,
		Finishes:        c.Finishes,
		Lang:            lang,
		Promo:           c.Promo,
		Digital:         c.Digital,
		Foil:            c.Foil,
		Nonfoil:         c.Nonfoil,
		Prices:          c.Prices,
		PurchaseURIs:    c.PurchaseURIs,
		Artist:          c.Artist,
		Frame:           c.Frame,
		BorderColor:     c.BorderColor,
		FullArt:         c.FullArt,
		Textless:        c.Textless,
		Reprint:         c.Reprint,
		Variation:       c.Variation,
	}
}

// Detail reshapes a card into the single-card record.
func (c Card) Detail() CardDetail {
	return CardDetail{
		ID:         c.ID,
		Name:       c.Name,
		SetName:    c.SetName,
		SetCode:    c.Set,
		TypeLine:   c.TypeLine,
		ManaCost:   c.ManaCost,
		CMC:        c.CMC,
		ImageURL:   c.ImageURL(),
		Prices:     c.Prices,
		ReleasedAt: c.ReleasedAt,
		Legalities: c.Legalities,
		Languages:  c.PrintedLangs,
		Finishes:   c.Finishes,
	}
}
