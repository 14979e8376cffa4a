package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sectionalFixture = `
<html><body>
<div class="dispalySectionalTime">
<table>
  <tr><td></td><td></td><td></td><td>第1段</td><td>第2段</td><td>第3段</td><td>過終點</td></tr>
  <tr>
    <td>1</td><td>5</td>
    <td><a href="/ch/racing/horse?HorseId=HK_2021_E123">好馬 (E123)</a></td>
    <td>8 2-1/2 13.10</td>
    <td>7 2 22.54</td>
    <td>3 1 23.10</td>
    <td>1.09.59</td>
  </tr>
  <tr>
    <td>2</td><td>8</td>
    <td><a href="/ch/racing/horse?HorseId=HK_2022_F456">快馬 (F456)</a></td>
    <td>6 4 13.35</td>
    <td>5 3 22.40</td>
    <td></td>
    <td>1.09.87</td>
  </tr>
</table>
</div>
</body></html>`

func TestSectionalPage(t *testing.T) {
	secs, err := SectionalPage([]byte(sectionalFixture))
	require.NoError(t, err)
	require.Len(t, secs, 5)

	assert.Equal(t, "E123", secs[0].HorseCode)
	assert.Equal(t, 1, secs[0].SectionNo)
	assert.Equal(t, 8, secs[0].Position)
	assert.Equal(t, 13.10, secs[0].TimeSeconds)

	assert.Equal(t, 3, secs[2].SectionNo)
	assert.Equal(t, 23.10, secs[2].TimeSeconds)

	// Second horse's empty third section is skipped.
	assert.Equal(t, "F456", secs[3].HorseCode)
	assert.Equal(t, 1, secs[3].SectionNo)
	assert.Equal(t, "F456", secs[4].HorseCode)
	assert.Equal(t, 2, secs[4].SectionNo)
}

func TestSectionalPage_PendingNotice(t *testing.T) {
	page := `<html><body><div class="dispalySectionalTime"><p>有關資料將於稍後公佈。</p></div></body></html>`
	secs, err := SectionalPage([]byte(page))
	require.NoError(t, err)
	assert.Empty(t, secs)
}

func TestSectionalPage_NoContainer(t *testing.T) {
	secs, err := SectionalPage([]byte(`<html><body><p>404</p></body></html>`))
	require.NoError(t, err)
	assert.Empty(t, secs)
}
