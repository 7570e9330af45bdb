// internal/rating/glicko2.go
package rating

import (
	"math"

	"github.com/jason-s-yu/gameroom/internal/models"
)

const (
	// GlickoScale is the multiplier used for converting between Elo and Glicko2's mu.
	GlickoScale = 173.7178
	// DefaultMu is the baseline rating (1500) in Glicko2 terms.
	DefaultMu = 1500.0
	// DefaultPhi is the baseline rating deviation (RD) in Glicko2 terms (350).
	DefaultPhi = 350.0
	// Tau is the constraint on volatility changes.
	Tau = 0.5
	// Epsilon is the tolerance used in iteration stopping conditions.
	Epsilon = 0.000001
)

// Glicko2Rating holds the transformed rating (Mu), rating deviation (Phi),
// and volatility (Sigma) for a single user in Glicko2 space.
type Glicko2Rating struct {
	Mu    float64
	Phi   float64
	Sigma float64
}

// NewGlicko2Rating creates a new Glicko2Rating from a standard Elo, rating deviation, and volatility.
//
// elo is the user's current rating in standard "1500-based" scale.
// rd is the user's rating deviation in the same scale (e.g., 350).
// sigma is the user's volatility (typically around 0.06).
func NewGlicko2Rating(elo, rd, sigma float64) Glicko2Rating {
	return Glicko2Rating{
		Mu:    (elo - DefaultMu) / GlickoScale,
		Phi:   rd / GlickoScale,
		Sigma: sigma,
	}
}

// ToElo converts a Glicko2Rating's Mu back to a standard 1500-based Elo scale.
func (r Glicko2Rating) ToElo() float64 {
	return r.Mu*GlickoScale + DefaultMu
}

// DefaultSigma is the starting volatility for accounts that have never been rated.
const DefaultSigma = 0.06

// fromUser reads a user's stored 1v1 rating, filling defaults for never-rated accounts.
func fromUser(u models.User) Glicko2Rating {
	elo, phi, sigma := float64(u.Elo1v1), u.Phi1v1, u.Sigma1v1
	if elo == 0 {
		elo = DefaultMu
	}
	if phi <= 0 {
		phi = DefaultPhi
	}
	if sigma <= 0 {
		sigma = DefaultSigma
	}
	return NewGlicko2Rating(elo, phi, sigma)
}

func toUser(u models.User, r Glicko2Rating) models.User {
	u.Elo1v1 = int(math.Round(r.ToElo()))
	u.Phi1v1 = r.Phi * GlickoScale
	u.Sigma1v1 = r.Sigma
	return u
}

// Update1v1 rates a decided match: the winner scores 1 and the loser 0. Both players are
// updated against the other's pre-match rating.
func Update1v1(winner, loser models.User) (models.User, models.User) {
	return rate(winner, loser, 1.0)
}

// UpdateDraw rates a drawn match, both players scoring 0.5.
func UpdateDraw(a, b models.User) (models.User, models.User) {
	return rate(a, b, 0.5)
}

func rate(a, b models.User, scoreA float64) (models.User, models.User) {
	ra, rb := fromUser(a), fromUser(b)
	return toUser(a, updateGlicko(ra, rb, scoreA)), toUser(b, updateGlicko(rb, ra, 1-scoreA))
}

// updateGlicko performs a single-match Glicko2 update with volatility for a user r
// against an opponent rOpp, given the final score in [0..1].
func updateGlicko(r, rOpp Glicko2Rating, score float64) Glicko2Rating {
	gVal := g(rOpp.Phi)
	EVal := E(r.Mu, rOpp.Mu, rOpp.Phi)

	v := 1.0 / (gVal * gVal * EVal * (1 - EVal))
	delta := v * gVal * (score - EVal)

	a := math.Log(r.Sigma * r.Sigma)
	A := a
	var B float64
	if delta*delta > r.Phi*r.Phi+v {
		B = math.Log(delta*delta - r.Phi*r.Phi - v)
	} else {
		k := 1.0
		for f(a-k*Tau, r.Phi, v, delta, A) < 0 {
			k++
		}
		B = a - k*Tau
	}

	fA := func(x float64) float64 {
		return f(x, r.Phi, v, delta, A)
	}

	fB := fA(B)
	for i := 0; i < 100; i++ {
		fAVal := fA(A)
		if math.Abs(fAVal) < Epsilon {
			break
		}
		A1 := A
		A = A1 - fAVal*(A1-B)/(fAVal-fB)
		fB = fA(B)
		if math.Abs(A-B) < Epsilon {
			break
		}
	}
	newSigma := math.Exp(A / 2)
	phiStar := math.Sqrt(r.Phi*r.Phi + newSigma*newSigma)
	phiPrime := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muPrime := r.Mu + phiPrime*phiPrime*gVal*(score-EVal)

	return Glicko2Rating{
		Mu:    muPrime,
		Phi:   phiPrime,
		Sigma: newSigma,
	}
}

// g is the G(phi) factor from Glicko2, applying the standard formula 1/sqrt(1+3phi^2/pi^2).
func g(phi float64) float64 {
	return 1.0 / math.Sqrt(1.0+3.0*phi*phi/math.Pi/math.Pi)
}

// E is the expected score formula in Glicko2 space, E(mu,mu2,phi2)=1/(1+exp[-g(phi2)*(mu-mu2)])
func E(mu, mu2, phi2 float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phi2)*(mu-mu2)))
}

// f is the Glicko2 volatility root-finding function used in the iterative volatility update.
func f(x, phi, v, delta, a float64) float64 {
	ex := math.Exp(x)
	num := ex * (delta*delta - phi*phi - v - ex)
	den := 2.0 * (phi*phi + v + ex) * (phi*phi + v + ex)
	return (num / den) - ((x - a) / (Tau * Tau))
}
