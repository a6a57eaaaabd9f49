package challenge

import "fmt"

// SampleValue is what the puzzle in SamplePage evaluates to before the host
// name length is added.
const SampleValue = 1725

// SamplePage renders a page in the recognized template, for tests and for
// local rehearsal of the solving path.
func SamplePage(vc, pass string, delayMs int) []byte {
	return []byte(fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Just a moment...</title></head>
<body>
<div class="cf-browser-verification">
<form id="challenge-form" action="/cdn-cgi/l/chk_jschl" method="get">
  <input type="hidden" name="jschl_vc" value="%s"/>
  <input type="hidden" name="pass" value="%s"/>
  <input type="hidden" id="jschl-answer" name="jschl_answer"/>
</form>
</div>
<script type="text/javascript">
  (function(){
    var a = function() {try{return !!window.addEventListener} catch(e) {return !1} };
  })();
  setTimeout(function(){
    var s,t,o,p,b,r,e,a,k,i,n,g,f, LvoMDGy={"yczjDZ":+((!+[]+!![]+!![]+[])+(!+[]+!![]))};
    t = document.createElement('div');
    t.innerHTML="<a href='/'>x</a>";
    t = t.firstChild.href;r = t.match(/https?:\/\//)[0];
    t = t.substr(r.length); t = t.substr(0,t.length-1);
    a = document.getElementById('jschl-answer');
    f = document.getElementById('challenge-form');
    ;LvoMDGy.yczjDZ+=+((!+[]+!![]+[])+(+!![]));LvoMDGy.yczjDZ*=+((!+[]+!![]+!![]+[])+(!+[]+!![]+!![]));LvoMDGy.yczjDZ-=+((!+[]+!![]+[])+(!+[]+!![]+!![]+!![]));
    a.value = (+LvoMDGy.yczjDZ + t.length).toFixed(10);
    f.action += location.hash;
    f.submit();
  }, %d);
</script>
</body>
</html>`, vc, pass, delayMs))
}
