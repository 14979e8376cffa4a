package models

// Facet names one category of odds data fetched per race from the odds site.
type Facet string

// Authority win/place trends and offshore market bet/eat facets. The string
// values are the odds site's "type" query parameter verbatim.
const (
	FacetWin      Facet = "w"
	FacetPlace    Facet = "p"
	FacetBetWin   Facet = "bet-w"
	FacetBetPlace Facet = "bet-p"
	FacetEatWin   Facet = "eat-w"
	FacetEatPlace Facet = "eat-p"
)

// AuthorityFacets are the facets served by the win/place trends page.
func AuthorityFacets() []Facet {
	return []Facet{FacetWin, FacetPlace}
}

// MarketFacets are the facets served by the offshore market trends page.
func MarketFacets() []Facet {
	return []Facet{FacetBetWin, FacetBetPlace, FacetEatWin, FacetEatPlace}
}

// AllFacets returns authority facets followed by market facets, in the fixed
// traversal order the by-type strategy uses.
func AllFacets() []Facet {
	return append(AuthorityFacets(), MarketFacets()...)
}

// IsMarket reports whether f belongs to the offshore market page.
func (f Facet) IsMarket() bool {
	switch f {
	case FacetBetWin, FacetBetPlace, FacetEatWin, FacetEatPlace:
		return true
	}
	return false
}
