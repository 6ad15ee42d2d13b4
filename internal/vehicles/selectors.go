package vehicles

// Selectors contains CSS selectors for the vehicles feed markup. The class
// names carry a build hash suffix, so each selector matches on the stable
// prefix only.
type Selectors struct {
	// Card matches one listing in the feed
	Card string

	Link           string
	Image          string
	Title          string
	ModelDetails   string
	Year           string
	Agency         string
	Price          string
	MonthlyPayment string
}

// DefaultSelectors returns the selectors of the current feed markup
func DefaultSelectors() Selectors {
	return Selectors{
		Card:           `div[class*="feed-item-base_feedItemBox"]`,
		Link:           `a[class*="feed-item-base_itemLink"]`,
		Image:          `img[class*="single-image_image"]`,
		Title:          `span[class*="feed-item-info_heading"]`,
		ModelDetails:   `span[class*="feed-item-info_marketingText"]`,
		Year:           `span[class*="feed-item-info_yearAndHandBox"]`,
		Agency:         `span[class*="commercial-item-left-side_agencyName"]`,
		Price:          `span[class*="price_price"]`,
		MonthlyPayment: `span[class*="monthly-payment_monthlyPaymentBox"]`,
	}
}

// Attribute keys of a vehicle record; they become extra checkpoint columns
const (
	AttrModelDetails   = "model_details"
	AttrYear           = "year"
	AttrAgency         = "agency"
	AttrMonthlyPayment = "monthly_payment"
)
